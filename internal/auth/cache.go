package auth

import (
	"sync"
	"time"
)

// safetyMarginPercent is how much of the provider-declared lifetime is cut
// off so a cached token never expires while a request is in flight.
const safetyMarginPercent = 15

// Credential is a bearer token and the instant after which it must not be used.
type Credential struct {
	BearerToken string
	ExpiresAt   time.Time
}

// CredentialCache holds zero or one Credential. Token and expiry are always
// replaced together.
type CredentialCache struct {
	mu   sync.Mutex
	cred *Credential
	now  func() time.Time
}

// CacheOption configures a CredentialCache.
type CacheOption func(*CredentialCache)

// WithClock sets the time source. Defaults to time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *CredentialCache) {
		c.now = now
	}
}

// NewCredentialCache creates an empty cache.
func NewCredentialCache(opts ...CacheOption) *CredentialCache {
	c := &CredentialCache{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the stored credential if it has not expired.
// Expired entries are reported as absent.
func (c *CredentialCache) Get() (Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cred == nil || !c.now().Before(c.cred.ExpiresAt) {
		return Credential{}, false
	}
	return *c.cred, true
}

// Set stores token for ttl minus the safety margin and returns what was stored.
// A non-positive ttl clears the cache instead.
func (c *CredentialCache) Set(token string, ttl time.Duration) (Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 || token == "" {
		c.cred = nil
		return Credential{}, false
	}

	effective := ttl - ttl*safetyMarginPercent/100
	cred := Credential{
		BearerToken: token,
		ExpiresAt:   c.now().Add(effective),
	}
	c.cred = &cred
	return cred, true
}

// Clear removes any stored credential.
func (c *CredentialCache) Clear() {
	c.mu.Lock()
	c.cred = nil
	c.mu.Unlock()
}

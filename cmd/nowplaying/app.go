package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/justestif/go-spotify-now-playing/internal/auth"
	"github.com/justestif/go-spotify-now-playing/internal/config"
	"github.com/justestif/go-spotify-now-playing/internal/db"
	"github.com/justestif/go-spotify-now-playing/internal/logging"
	"github.com/justestif/go-spotify-now-playing/internal/nowplaying"
	"github.com/justestif/go-spotify-now-playing/internal/spotify"
	"github.com/justestif/go-spotify-now-playing/internal/web"
)

const version = "0.1.0"

func newApp(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "nowplaying",
		Usage:   "Expose what a Spotify account is playing over HTTP",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file (default: ./nowplaying.yaml if present)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server",
				Action: serve,
			},
			{
				Name:  "resolve",
				Usage: "Resolve once and print the response body",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return resolve(ctx, cmd, stdout)
				},
			},
			{
				Name:   "forget",
				Usage:  "Delete the stored refresh grant",
				Action: forget,
			},
		},
	}
}

// deps holds the components shared by every subcommand.
type deps struct {
	cfg    *config.Config
	logger *log.Logger
	grants auth.GrantStore
	close  func()
}

func setup(ctx context.Context, cmd *cli.Command) (*deps, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(nil, cfg.Logging)
	d := &deps{cfg: cfg, logger: logger, close: func() {}}

	if cfg.Database.URL != "" {
		database, err := db.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		d.grants = auth.NewDBGrantStore(database)
		d.close = database.Close
		logger.Debug("using database grant store")
	} else {
		store := auth.NewFileGrantStore(cfg.Spotify.TokenFile)
		d.grants = store
		logger.Debug("using file grant store", "path", store.Path())
	}

	return d, nil
}

func (d *deps) resolver() *nowplaying.Resolver {
	acquirer := auth.NewAcquirer(d.cfg.Spotify, auth.NewCredentialCache(),
		auth.WithGrantStore(d.grants),
		auth.WithLogger(d.logger.WithPrefix("auth")))
	player := spotify.NewClient(d.cfg.Spotify.APIURL, d.cfg.Spotify.RequestTimeout)
	return nowplaying.NewResolver(acquirer, player, nowplaying.WithLogger(d.logger.WithPrefix("resolver")))
}

func serve(ctx context.Context, cmd *cli.Command) error {
	d, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer d.close()

	if err := d.cfg.Spotify.Validate(); err != nil {
		grant, loadErr := d.grants.Load(ctx)
		if !d.cfg.Spotify.HasClient() || loadErr != nil || grant == nil {
			d.logger.Warn("now playing requests will fail until credentials are configured; visit /auth/login once the client is set", "err", err)
		}
	}

	server, err := web.NewServer(web.ServerConfig{
		ServerConfig: d.cfg.Server,
		Resolver:     d.resolver(),
		Authorizer:   auth.NewAuthorizer(d.cfg.Spotify, d.grants, d.logger.WithPrefix("auth")),
		Logger:       d.logger,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	return server.Run(ctx)
}

func resolve(ctx context.Context, cmd *cli.Command, stdout io.Writer) error {
	d, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer d.close()

	status, body := web.Render(d.resolver().Resolve(ctx))
	if body != nil {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(body); err != nil {
			return fmt.Errorf("writing result: %w", err)
		}
	}

	if status >= http.StatusBadRequest {
		return fmt.Errorf("resolution failed with status %d", status)
	}
	if status == http.StatusNoContent {
		d.logger.Info("nothing playing and no recent history")
	}
	return nil
}

func forget(ctx context.Context, cmd *cli.Command) error {
	d, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer d.close()

	if err := d.grants.Delete(ctx); err != nil {
		return fmt.Errorf("deleting grant: %w", err)
	}
	d.logger.Info("stored grant deleted")
	return nil
}

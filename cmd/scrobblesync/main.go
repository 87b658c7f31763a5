// Command scrobblesync syncs a Last.fm listening history into Postgres,
// reconciles tracks against the Spotify catalog, and maintains playlists
// derived from the accumulated history.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kpetersen/scrobblesync/internal/auth"
	"github.com/kpetersen/scrobblesync/internal/config"
	"github.com/kpetersen/scrobblesync/internal/db"
	"github.com/kpetersen/scrobblesync/internal/lastfm"
	"github.com/kpetersen/scrobblesync/internal/match"
	"github.com/kpetersen/scrobblesync/internal/playlist"
	"github.com/kpetersen/scrobblesync/internal/spotify"
	"github.com/kpetersen/scrobblesync/internal/sync"
	"github.com/kpetersen/scrobblesync/internal/web"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "scrobblesync",
		Short:         "Sync Last.fm listening history and maintain Spotify playlists",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		syncCmd(),
		backfillCmd(),
		playlistsCmd(),
		statusCmd(),
		resetCmd(),
		serveCmd(),
		logoutCmd(),
	)
	return root
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one incremental history sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			orch, err := app.orchestrator(cmd.Context())
			if err != nil {
				return err
			}
			result, err := orch.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Synced %d new plays across %d chunks in %s\n",
				result.EventsAdded, result.ChunksProcessed, result.Duration.Round(time.Second))
			return nil
		},
	}
}

func backfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Resolve Spotify IDs for unmatched tracks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			bf, err := app.backfiller(cmd.Context())
			if err != nil {
				return err
			}
			result, err := bf.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Examined %d tracks: %d matched, %d no match, %d collisions\n",
				result.Examined, result.Matched, result.NoMatch, result.Collisions)
			return nil
		},
	}
}

func playlistsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "playlists",
		Short: "Refresh the derived Spotify playlists",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			svc, err := app.playlists(cmd.Context())
			if err != nil {
				return err
			}
			updates, err := svc.UpdateAll(cmd.Context())
			if err != nil {
				return err
			}
			for _, u := range updates {
				fmt.Printf("%-20s %d tracks\n", u.Name, u.Tracks)
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show library counts and sync checkpoint state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			return app.printStatus(cmd.Context())
		},
	}
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Reset the sync checkpoint to idle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.db.Checkpoints().Reset(cmd.Context(), sync.SyncTypeLastfm); err != nil {
				return fmt.Errorf("resetting checkpoint: %w", err)
			}
			fmt.Println("Checkpoint reset")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync service: scheduled syncs plus the monitoring API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()
			return app.serve(cmd.Context())
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the cached Spotify token",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			authenticator, err := auth.New(cfg.SpotifyID, cfg.SpotifySecret, newLogger())
			if err != nil {
				return err
			}
			if err := authenticator.Logout(); err != nil {
				return err
			}
			fmt.Println("Logged out")
			return nil
		},
	}
}

func newLogger() zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(out).With().Timestamp().Logger()
}

// app holds the wired dependencies shared by the subcommands. The Spotify
// client is built lazily because the interactive OAuth flow should only run
// for commands that talk to the catalog.
type app struct {
	cfg *config.Config
	log zerolog.Logger
	db  *db.DB

	source  *lastfm.Client
	storage sync.Storage

	spotifyClient *spotify.Client
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := newLogger()

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return &app{
		cfg:     cfg,
		log:     log,
		db:      database,
		source:  lastfm.NewClient(cfg.LastfmAPIKey, cfg.LastfmUser, log),
		storage: sync.NewStorage(database),
	}, nil
}

func (a *app) Close() {
	a.db.Close()
}

func (a *app) spotify(ctx context.Context) (*spotify.Client, error) {
	if a.spotifyClient != nil {
		return a.spotifyClient, nil
	}
	authenticator, err := auth.New(a.cfg.SpotifyID, a.cfg.SpotifySecret, a.log)
	if err != nil {
		return nil, err
	}
	client, err := authenticator.Authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("authenticating with spotify: %w", err)
	}
	a.spotifyClient = spotify.New(client)
	return a.spotifyClient, nil
}

func (a *app) matcher(ctx context.Context) (*match.Matcher, error) {
	client, err := a.spotify(ctx)
	if err != nil {
		return nil, err
	}
	return match.New(client, a.log), nil
}

func (a *app) orchestrator(ctx context.Context) (*sync.Orchestrator, error) {
	matcher, err := a.matcher(ctx)
	if err != nil {
		return nil, err
	}
	return sync.New(a.source, matcher, a.storage, a.log,
		sync.WithPagesPerChunk(a.cfg.Sync.PagesPerChunk),
		sync.WithErrorCeiling(a.cfg.Sync.ErrorCeiling),
		sync.WithResumeOverlap(a.cfg.Sync.ResumeOverlap),
		sync.WithFirstSyncStart(a.cfg.Sync.FirstSyncStart),
	), nil
}

func (a *app) backfiller(ctx context.Context) (*sync.Backfiller, error) {
	matcher, err := a.matcher(ctx)
	if err != nil {
		return nil, err
	}
	return sync.NewBackfiller(matcher, a.storage, a.log,
		sync.WithBackfillBatch(a.cfg.Sync.BackfillBatch),
	), nil
}

func (a *app) playlists(ctx context.Context) (*playlist.Service, error) {
	client, err := a.spotify(ctx)
	if err != nil {
		return nil, err
	}
	return playlist.New(client, playlist.NewLibrary(a.db), a.log), nil
}

func (a *app) printStatus(ctx context.Context) error {
	cp, err := a.db.Checkpoints().Get(ctx, sync.SyncTypeLastfm)
	if err != nil {
		return err
	}
	plays, err := a.db.Plays().Count(ctx)
	if err != nil {
		return err
	}
	tracks, err := a.db.Tracks().Count(ctx)
	if err != nil {
		return err
	}
	artists, err := a.db.Artists().Count(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Library: %d plays, %d tracks, %d artists\n", plays, tracks, artists)
	fmt.Printf("Sync status: %s\n", cp.Status)
	if cp.CurrentChunk != nil {
		fmt.Printf("Current chunk: %s (page %d)\n", *cp.CurrentChunk, cp.LastPage)
	}
	fmt.Printf("Chunks completed: %d, events synced: %d, API calls: %d\n",
		cp.ChunksCompleted, cp.EventsSynced, cp.APICalls)
	if cp.LastError != nil {
		fmt.Printf("Last error (count %d): %s\n", cp.ErrorCount, *cp.LastError)
	}
	return nil
}

func (a *app) serve(ctx context.Context) error {
	orch, err := a.orchestrator(ctx)
	if err != nil {
		return err
	}
	bf, err := a.backfiller(ctx)
	if err != nil {
		return err
	}

	scheduler := sync.NewScheduler(orch, a.cfg.Sync.Interval, a.log)

	schedCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go scheduler.Start(schedCtx)

	server := web.NewServer(
		web.ServerConfig{Addr: a.cfg.ListenAddr},
		orch,
		scheduler,
		bf,
		web.NewStats(a.db),
		a.log,
	)
	return server.Run()
}

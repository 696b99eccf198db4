package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/TysonTheNugget/sketchyflipback/internal/assets"
	"github.com/TysonTheNugget/sketchyflipback/internal/chain"
	cfgpkg "github.com/TysonTheNugget/sketchyflipback/internal/config"
	"github.com/TysonTheNugget/sketchyflipback/internal/journal"
	"github.com/TysonTheNugget/sketchyflipback/internal/reconcile"
	httpserver "github.com/TysonTheNugget/sketchyflipback/internal/server/http"
	"github.com/TysonTheNugget/sketchyflipback/internal/server/ws"
	"github.com/TysonTheNugget/sketchyflipback/internal/session"
	pebblestore "github.com/TysonTheNugget/sketchyflipback/internal/storage/pebble"
	"github.com/TysonTheNugget/sketchyflipback/internal/store"
	logpkg "github.com/TysonTheNugget/sketchyflipback/pkg/log"
)

// Options carries everything Run needs beyond the merged configuration.
type Options struct {
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
}

// Run wires the whole relay and blocks until ctx is cancelled. The only
// fatal startup condition is an unwritable snapshot directory; a missing
// chain endpoint or journal trouble degrades to logging.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}

	level, err := logpkg.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(logpkg.WithLevel(level), logpkg.WithFormat(cfg.LogFormat))

	logger.Info("starting flipback relay",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("game_contract", cfg.Chain.GameContract),
		logpkg.Str("points_contract", cfg.Chain.PointsContract))

	st, err := store.Open(filepath.Join(cfg.DataDir, "snapshots"), logger)
	if err != nil {
		return err
	}

	// The journal is an audit surface; losing it must not keep the relay
	// down.
	var j *journal.Journal
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       filepath.Join(cfg.DataDir, "journal"),
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
	})
	if err != nil {
		logger.Error("journal storage unavailable, continuing without it", logpkg.Err(err))
	} else {
		defer db.Close()
		if j, err = journal.Open(db); err != nil {
			logger.Error("journal open failed, continuing without it", logpkg.Err(err))
			j = nil
		}
	}

	client := chain.NewClient(cfg.Chain, logger)
	resolver := assets.NewResolver(client, cfg.Assets, logger)

	svc := reconcile.NewService(st, client, resolver, cfg.Fallback, logger)
	if j != nil {
		svc.SetJournal(j)
	}
	svc.Load()

	dir := session.NewDirectory(logger)
	svc.SetFanout(dir)

	wsHandler := ws.NewHandler(svc, dir, cfg.AllowedOrigins, logger)
	hsrv := httpserver.New(svc, j, wsHandler, cfg.AllowedOrigins, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, cfg.HTTPAddr); err != nil && sctx.Err() == nil {
			logger.Error("http server failed", logpkg.Err(err))
			stop()
		}
	}()

	if cfg.Chain.WSURL != "" {
		sub := chain.NewSubscriber(
			cfg.Chain.WSURL,
			[]string{client.GameAddress(), client.PointsAddress()},
			cfg.Chain.ReconnectDelay(),
			func(ev chain.Event) { svc.Apply(sctx, ev) },
			logger,
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub.Run(sctx)
		}()
	} else {
		logger.Warn("no chain websocket url configured, running without live events")
	}

	if cfg.Chain.HTTPURL != "" {
		// Close any gap from downtime before this start, then keep polling.
		go func() {
			if err := svc.Resync(sctx); err != nil && sctx.Err() == nil {
				logger.Warn("initial resync failed", logpkg.Err(err))
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.RunResync(sctx, cfg.ResyncInterval())
		}()
	}

	<-sctx.Done()
	hsrv.Close()
	wg.Wait()
	return nil
}

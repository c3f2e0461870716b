package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/messenger-client/internal/config"
	"github.com/messenger-client/internal/handler"
	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/metrics"
	"github.com/messenger-client/internal/session"
	"github.com/messenger-client/internal/storage/postgres"
	"github.com/messenger-client/internal/startup"
	"github.com/messenger-client/internal/syncer"
	"github.com/messenger-client/internal/ws"
)

const devPostgresPort = 5433

func main() {
	logger.SetPrefix("bridge")
	addr := flag.String("addr", "", "listen address (overrides BRIDGE_ADDR)")
	dev := flag.Bool("dev", false, "keep the session in an embedded PostgreSQL (no external DB required)")
	flag.Parse()
	defer logger.Flush()

	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	if *addr != "" {
		cfg.Bridge.Addr = *addr
	}

	// stopDev зовётся и перед os.Exit: defer там не выполняется.
	stopDev := func() {}
	if *dev {
		embeddedDB, err := postgres.StartEmbedded(filepath.Join(".", ".pgdata"), devPostgresPort)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			logger.Flush()
			os.Exit(1)
		}
		stopDev = func() {
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("%v", err)
			}
		}
		defer stopDev()
		cfg.Session.Backend = config.SessionBackendPostgres
		cfg.Session.DatabaseURL = embeddedDB.URL()
	}
	logger.Infof("starting bridge api=%s session=%s", cfg.APIURL, cfg.Session.Backend)

	openCtx, openCancel := context.WithTimeout(context.Background(), 60*time.Second)
	store, err := startup.OpenStore(openCtx, cfg.Session, 60*time.Second)
	openCancel()
	if err != nil {
		logger.Errorf("session store: %v", err)
		stopDev()
		logger.Flush()
		os.Exit(1)
	}
	defer store.Close()

	sess := session.New(store)
	loadCtx, loadCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := sess.Load(loadCtx); err != nil {
		logger.Errorf("session load: %v", err)
	}
	loadCancel()
	if u := sess.User(); u != nil {
		logger.Infof("restored session user=%s", u.Username)
	}

	m := metrics.New()
	engine := syncer.New(syncer.Deps{Config: cfg, Session: sess, Metrics: m})
	defer engine.Close()

	runCtx, runCancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := engine.Run(runCtx); err != nil {
			logger.Errorf("engine: %v", err)
		}
	}()
	hub := ws.NewHub(engine, cfg.Bridge.MaxClients)
	go func() {
		defer wg.Done()
		hub.Run(runCtx)
	}()

	notices, stopNotices := engine.Notices()
	defer stopNotices()
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case n := <-notices:
				logger.Infof("notice %s %s: %s", n.Kind, n.Op, n.Message)
			}
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Bridge.Addr,
		Handler:           handler.NewRouter(handler.Deps{Engine: engine, Hub: hub, Metrics: m, Bridge: cfg.Bridge}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("bridge listening on %s", cfg.Bridge.Addr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	runCancel()
	wg.Wait()
	logger.Info("bridge stopped")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-call-relay/auth"
	"github.com/jrsteele09/go-call-relay/calls"
	callsql "github.com/jrsteele09/go-call-relay/calls/sqlstore"
	"github.com/jrsteele09/go-call-relay/groups"
	groupsql "github.com/jrsteele09/go-call-relay/groups/sqlstore"
	"github.com/jrsteele09/go-call-relay/internal/config"
	"github.com/jrsteele09/go-call-relay/internal/logging"
	"github.com/jrsteele09/go-call-relay/internal/metrics"
	"github.com/jrsteele09/go-call-relay/internal/reporting"
	"github.com/jrsteele09/go-call-relay/internal/sqlutil"
	"github.com/jrsteele09/go-call-relay/presence"
	"github.com/jrsteele09/go-call-relay/presence/boltstore"
	presencesql "github.com/jrsteele09/go-call-relay/presence/sqlstore"
	"github.com/jrsteele09/go-call-relay/server"
	"github.com/jrsteele09/go-call-relay/signaling"
	"github.com/jrsteele09/go-call-relay/token"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running server: %s\n", err)
		os.Exit(1)
	}
}

func run() (returnError error) {
	c, err := config.New()
	if err != nil {
		return err
	}
	logger := logging.New(c.GetLogLevel(), c.GetEnv())

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("stack", string(debug.Stack())).Msgf("recovered from panic: %v", r)
			returnError = errors.New("panic recovered")
		}
	}()

	if c.GetJWTSecret() == "" {
		return errors.New("JWT_SECRET must be set")
	}
	if err := reporting.Init(c.GetSentryDSN(), c.GetEnv(), version); err != nil {
		return fmt.Errorf("sentry init: %w", err)
	}
	defer reporting.Flush(2 * time.Second)

	displayAppname(c.GetAppName())

	db, err := sqlutil.Open(c.GetDBDriver(), c.GetDBDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	store, closeStore, err := openPresenceStore(c, db, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	groupService := groups.NewService(groupsql.New(db), c.GetMembershipCacheTTL())
	groupService.Start()
	defer groupService.Stop()

	writer := calls.NewWriter(callsql.New(db))
	relay := signaling.New(
		presence.NewTable(store, c.GetInstanceID()),
		writer,
		groupService,
		logging.Component(logger, "relay"),
		m,
		signaling.Options{EndCallsOnDisconnect: c.GetEndCallsOnDisconnect()},
	)
	groupService.OnMemberRemoved(relay.RemovedFromGroup)

	srv := server.New(c, logging.Component(logger, "http"), server.Services{
		Auth:     auth.NewAuthenticator(token.NewHMACSigner(c.GetJWTSecret()), c.GetSessionCookieName()),
		Relay:    relay,
		Calls:    writer,
		Groups:   groupService,
		Gatherer: registry,
	})

	httpServer := &http.Server{Addr: c.GetPort(), Handler: srv}
	errs := make(chan error, 1)
	go func() {
		errs <- listenAndServe(httpServer, logger)
	}()

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(httpServer, srv, logger)
}

// openPresenceStore builds the configured presence backend. Entries left by
// an earlier run of this instance are discarded.
func openPresenceStore(c config.Config, db *sqlx.DB, logger zerolog.Logger) (presence.Store, func() error, error) {
	switch backend := c.GetPresenceBackend(); backend {
	case config.PresenceBackendMemory:
		return presence.NewInMemoryStore(), noClose, nil
	case config.PresenceBackendBolt:
		store, err := boltstore.Open(c.GetPresenceBoltPath())
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.PresenceBackendSQL:
		store := presencesql.New(db)
		cleared, err := store.ClearInstance(context.Background(), c.GetInstanceID())
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Int64("entries", cleared).Str("instance_id", c.GetInstanceID()).Msg("cleared stale presence")
		return store, noClose, nil
	default:
		return nil, nil, fmt.Errorf("unknown presence backend %q", backend)
	}
}

func noClose() error { return nil }

func listenAndServe(server *http.Server, logger zerolog.Logger) error {
	logger.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(httpServer *http.Server, srv *server.Server, logger zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	// Hijacked websocket connections are not covered by Shutdown.
	if err := srv.CloseConnections(ctx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

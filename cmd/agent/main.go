package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meethalf/internal/agent"
	"meethalf/internal/api"
	"meethalf/internal/auth"
	"meethalf/internal/config"
	"meethalf/internal/db"
	"meethalf/internal/membership"
	"meethalf/internal/realtime"
	"meethalf/internal/server"
	"meethalf/internal/stream"
	"meethalf/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

var mainDepsProvider = defaultDeps
var mainRunner = realMain

func main() {
	mainRunner(mainDepsProvider())
}

type mainDeps struct {
	loadConfig   func() config.Config
	connectRedis func(config.Config) (*redis.Client, error)
	openStore    func(context.Context, config.Config, *redis.Client) (membership.Store, func(), error)
	notify       func(chan<- os.Signal, ...os.Signal)
	run          func(context.Context, config.Config, membership.Store, *redis.Client, <-chan os.Signal, ListenFunc) error
}

func defaultDeps() mainDeps {
	return mainDeps{
		loadConfig:   config.Load,
		connectRedis: db.ConnectRedis,
		openStore:    openStore,
		notify:       signal.Notify,
		run:          Run,
	}
}

func realMain(deps mainDeps) {
	cfg := deps.loadConfig()

	var rdb *redis.Client
	if cfg.StoreDriver == "redis" || cfg.RealtimeDriver == "redis" {
		var err error
		if rdb, err = deps.connectRedis(cfg); err != nil {
			log.Printf("redis connection failed: %v", err)
		}
	}

	store, closeStore, err := deps.openStore(context.Background(), cfg, rdb)
	if err != nil {
		log.Printf("membership store unavailable, joins will not survive a restart: %v", err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	signals := make(chan os.Signal, 1)
	deps.notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if err := deps.run(context.Background(), cfg, store, rdb, signals, nil); err != nil {
		log.Printf("agent exited with error: %v", err)
	}
}

// openStore opens the membership store selected by STORE_DRIVER.
func openStore(ctx context.Context, cfg config.Config, rdb *redis.Client) (membership.Store, func(), error) {
	switch cfg.StoreDriver {
	case "", "sqlite":
		conn, err := db.OpenSQLite(cfg)
		if err != nil {
			return nil, nil, err
		}
		store := membership.NewSQLiteStore(conn, cfg.DeviceID)
		if err := prepareStore(ctx, store); err != nil {
			_ = conn.Close()
			return nil, nil, err
		}
		return store, func() { _ = conn.Close() }, nil
	case "postgres":
		pool, err := db.ConnectPostgres(cfg)
		if err != nil {
			return nil, nil, err
		}
		store := membership.NewPostgresStore(pool, cfg.DeviceID)
		if err := prepareStore(ctx, store); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	case "redis":
		if rdb == nil {
			return nil, nil, fmt.Errorf("redis store: REDIS_ADDR not set")
		}
		store := membership.NewRedisStore(rdb, cfg.DeviceID)
		if err := prepareStore(ctx, store); err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

type deviceStore interface {
	EnsureDevice(ctx context.Context) (string, error)
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// prepareStore creates the schema when the store has one and resolves the
// device id, so records written before a restart are found again.
func prepareStore(ctx context.Context, store deviceStore) error {
	if m, ok := store.(migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			return err
		}
	}
	id, err := store.EnsureDevice(ctx)
	if err != nil {
		return err
	}
	log.Printf("[store] device %s", id)
	return nil
}

func newTransport(cfg config.Config, rdb *redis.Client) (realtime.Transport, error) {
	switch cfg.RealtimeDriver {
	case "", "websocket":
		header := http.Header{}
		if cfg.AccessToken != "" {
			header.Set("Authorization", "Bearer "+cfg.AccessToken)
		}
		return &realtime.WebSocketTransport{URL: cfg.RealtimeURL, Header: header}, nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("redis realtime: REDIS_ADDR not set")
		}
		return &realtime.RedisTransport{Client: rdb}, nil
	}
	return nil, fmt.Errorf("unknown REALTIME_DRIVER %q", cfg.RealtimeDriver)
}

type ListenFunc func(app *fiber.App, addr string) error

var defaultListen ListenFunc = func(app *fiber.App, addr string) error {
	return app.Listen(addr)
}

var shutdownFn = func(app *fiber.App, ctx context.Context) error {
	return app.ShutdownWithContext(ctx)
}

// Run wires the session and the local API, opens EVENT_ID if set, and waits
// for termination signals.
func Run(ctx context.Context, cfg config.Config, store membership.Store, rdb *redis.Client, signals <-chan os.Signal, listen ListenFunc) error {
	transport, err := newTransport(cfg, rdb)
	if err != nil {
		return err
	}

	userID, err := auth.UserIDFromToken(cfg.AccessToken, cfg.JWTSecret)
	if err != nil {
		log.Printf("access token rejected, continuing as guest: %v", err)
		userID = ""
	}

	client := api.NewClient(cfg.APIBaseURL,
		api.WithTimeout(cfg.HTTPTimeout()),
		api.WithAccessToken(cfg.AccessToken),
	)
	feed := tracking.NewFeedSource()
	hub := stream.NewHub()
	session := agent.New(agent.Deps{
		Client:    client,
		Store:     store,
		Transport: transport,
		Source:    feed,
		Hub:       hub,
		Config:    cfg,
		UserID:    userID,
	})
	defer session.Close()

	if cfg.EventID != 0 {
		if err := session.Open(ctx, cfg.EventID); err != nil {
			log.Printf("open event %d: %v", cfg.EventID, err)
		}
	}

	srv := server.NewServer(cfg, session, feed, hub)

	if listen == nil {
		listen = defaultListen
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- listen(srv.App, cfg.ServerPort)
	}()

	select {
	case <-signals:
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := shutdownFn(srv.App, shutdownCtx); err != nil {
		return err
	}
	session.Close()
	if rdb != nil {
		_ = rdb.Close()
	}
	return nil
}

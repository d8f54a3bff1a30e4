package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"taskplanner/config"
	"taskplanner/database"
	"taskplanner/firebase"
	"taskplanner/handlers"
	"taskplanner/redisstore"
	"taskplanner/services"
	"taskplanner/store"
	"taskplanner/utilities"
)

func main() {
	cfg, dotenvLoaded, err := config.Load()
	if err != nil {
		utilities.LogError(err, "failed to load configuration")
		os.Exit(1)
	}

	utilities.InitLogger(cfg.Env, cfg.LogLevel)
	if !dotenvLoaded {
		utilities.LogDebug("no .env file loaded, using the process environment")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	taskStore, err := openStore(ctx, cfg)
	if err != nil {
		utilities.LogError(err, "failed to open task store")
		os.Exit(1)
	}
	defer func() {
		if err := taskStore.Close(); err != nil {
			utilities.LogError(err, "failed to close task store")
		}
	}()

	service := services.NewTaskService(utilities.Logger("task_service"), taskStore, cfg.Store.WriteTimeout)
	taskHandler := handlers.NewTaskHandler(service, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           newRouter(taskHandler, cfg.Store.Backend, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		utilities.LogInfo("Server listening on %s (store: %s)", cfg.Address(), cfg.Store.Backend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			utilities.LogError(err, "server failed")
			stop()
		}
	}()

	<-ctx.Done()
	utilities.LogInfo("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		utilities.LogError(err, "server forced to shut down")
	}
}

// openStore builds the task store selected by STORE_BACKEND.
func openStore(ctx context.Context, cfg *config.Config) (store.TaskStore, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return store.NewMemoryTaskStore(), nil

	case config.BackendFirestore:
		client, err := firebase.GetFirestoreClient(ctx, cfg.Firebase)
		if err != nil {
			return nil, err
		}
		return firebase.NewFirestoreTaskStore(client, cfg.Store.Collection, utilities.Logger("firestore"), cfg.Store.ResubscribeDelay), nil

	case config.BackendPostgres:
		dsn := cfg.Postgres.DSN()
		db, err := database.ConnectPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		s, err := database.NewPostgresTaskStore(ctx, db, dsn, cfg.Store.Collection, utilities.Logger("postgres"), cfg.Store.ResubscribeDelay)
		if err != nil {
			db.Close()
			return nil, err
		}
		return s, nil

	case config.BackendRedis:
		s, err := redisstore.NewRedisTaskStore(ctx, cfg.Redis.URL, cfg.Store.Collection, utilities.Logger("redis"), cfg.Store.ResubscribeDelay)
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

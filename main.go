package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mindfulchat/internal/api"
	"mindfulchat/internal/assistant"
	"mindfulchat/internal/auth"
	"mindfulchat/internal/chat"
	"mindfulchat/internal/config"
	"mindfulchat/internal/kvstore"
	"mindfulchat/internal/metrics"
	"mindfulchat/internal/redis"
	"mindfulchat/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env loaded: %v", err)
	}

	cfg, err := config.Load(os.Getenv("MINDFULCHAT_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
	}

	store, err := kvstore.Open(cfg, rdb)
	if err != nil {
		log.Fatalf("open kv store (%s): %v", cfg.KV.Driver, err)
	}
	defer store.Close()
	log.Printf("kv driver: %s", cfg.KV.Driver)

	client, err := assistant.New(ctx, cfg.Assistant)
	if err != nil {
		log.Fatalf("init assistant client: %v", err)
	}
	log.Printf("assistant mode: %s", cfg.Assistant.Mode)

	cipher, err := chat.NewSnapshotCipherFromEnv()
	if err != nil {
		log.Fatalf("init snapshot cipher: %v", err)
	}

	dispatcher := worker.NewDispatcher(worker.Config{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Second,
	})

	collector := metrics.New()
	registryCfg := chat.RegistryConfig{
		StorageKey:        cfg.BasicConfig.StorageKey,
		MaxResponseLength: cfg.BasicConfig.MaxResponseLength,
		RejectWhileTyping: true,
		IdleTTL:           time.Duration(cfg.BasicConfig.ClientIdleTTL) * time.Minute,
		Executor:          dispatcher,
		Recorder:          collector,
		Cipher:            cipher,
	}
	if rdb != nil {
		registryCfg.Bus = rdb
	}
	registry := chat.NewRegistry(store, client, registryCfg)
	if err := registry.Listen(ctx); err != nil {
		log.Fatalf("subscribe invalidations: %v", err)
	}
	registry.StartEvictor(ctx, time.Minute)

	collector.Gauge("active_clients", "Clients whose sessions are held in memory.", func() float64 {
		return float64(registry.Len())
	})
	collector.Gauge("dispatch_queued_jobs", "Submissions waiting for a worker.", func() float64 {
		_, _, queued := dispatcher.Stats()
		return float64(queued)
	})
	collector.Gauge("dispatch_busy_workers", "Workers running a submission.", func() float64 {
		_, busy, _ := dispatcher.Stats()
		return float64(busy)
	})

	authService, err := auth.NewService(cfg.BasicConfig.ClientSecret, 0)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}
	handlers := api.NewHandler(registry, authService, api.Options{
		RateLimit: cfg.RateLimit,
		Metrics:   collector.Handler(),
	})

	router := gin.New()
	router.Use(gin.Logger(), api.Recovery())
	handlers.RegisterRoutes(router)

	// event streams end when shutdown starts
	streamCtx, endStreams := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return streamCtx },
	}
	srv.RegisterOnShutdown(endStreams)
	log.Printf("listening on %s", srv.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Printf("server error: %v", err)
	}

	// let in-flight replies land before the store closes
	dispatcher.Close()
	registry.Close()
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"secret.letters/config"
	"secret.letters/internal/api"
	"secret.letters/internal/crypto"
	"secret.letters/internal/letters"
	"secret.letters/internal/store"

	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("config error:", err)
	}

	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := initStore(rootCtx, cfg)
	if err != nil {
		log.Printf("service=server msg=%q store=%s err=%v", "store_connect_failed", cfg.Store.Type, err)
		return 1
	}

	sealer, err := initSealer(cfg)
	if err != nil {
		log.Printf("service=server msg=%q err=%v", "sealer_init_failed", err)
		_ = st.Close()
		return 1
	}

	svc := letters.NewService(st, letters.Options{
		TTL:           cfg.Letters.TTL,
		MaxImageChars: cfg.Letters.MaxImageChars,
		Sealer:        sealer,
	})

	sweepCtx, cancelSweep := context.WithCancel(rootCtx)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		svc.RunSweeper(sweepCtx, cfg.Letters.SweepInterval)
	}()

	router := api.SetupRouter(svc, st, cfg)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("service=server msg=%q addr=%s store=%s ttl=%s", "starting", cfg.Addr(), cfg.Store.Type, cfg.Letters.TTL)
		errCh <- server.ListenAndServe()
	}()

	exitCode := 0
	select {
	case <-rootCtx.Done():
		log.Printf("service=server msg=%q", "shutting_down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("service=server msg=%q err=%v", "server_error", err)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("service=server msg=%q err=%v", "shutdown_error", err)
		exitCode = 1
	}

	cancelSweep()
	<-sweepDone

	if err := st.Close(); err != nil {
		log.Printf("service=server msg=%q err=%v", "store_close_error", err)
	}
	log.Printf("service=server msg=%q", "shutdown_complete")
	return exitCode
}

func initSealer(cfg *config.Config) (*crypto.Sealer, error) {
	if !cfg.Letters.SealAtRest {
		return nil, nil
	}

	key := []byte(cfg.Letters.SealKey)
	if len(key) == 0 {
		// Only reachable with the memory store; see config.Validate.
		var err error
		if key, err = crypto.RandomKey(); err != nil {
			return nil, err
		}
		log.Printf("service=server msg=%q", "using_ephemeral_seal_key")
	}
	return crypto.NewSealer(key)
}

func initStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Type {
	case config.StoreRedis:
		return store.NewRedisStore(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
	case config.StoreMongo:
		return store.NewMongoStore(store.MongoOptions{
			URI:            cfg.Store.Mongo.URI,
			Database:       cfg.Store.Mongo.Database,
			Collection:     cfg.Store.Mongo.Collection,
			ConnectTimeout: cfg.Store.Mongo.ConnectTimeout,
		})
	case config.StorePostgres:
		return store.NewPostgresStore(ctx, cfg.Store.Postgres.DSN)
	default:
		return store.NewMemoryStore(), nil
	}
}

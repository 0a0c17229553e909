package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ac484/Xuanwu-sub001/internal/app"
	"github.com/ac484/Xuanwu-sub001/internal/audit"
	"github.com/ac484/Xuanwu-sub001/internal/blob"
	"github.com/ac484/Xuanwu-sub001/internal/capability"
	"github.com/ac484/Xuanwu-sub001/internal/config"
	"github.com/ac484/Xuanwu-sub001/internal/live"
	"github.com/ac484/Xuanwu-sub001/internal/metrics"
	"github.com/ac484/Xuanwu-sub001/internal/search"
	"github.com/ac484/Xuanwu-sub001/internal/session"
	"github.com/ac484/Xuanwu-sub001/internal/store"
)

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and live WebSocket API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config
			if addr != "" {
				cfg.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default $API_ADDR)")
	return cmd
}

// liveHandle is what serve needs from a live handle beyond subscriptions.
type liveHandle interface {
	live.Handle
	live.Notifier
}

func serve(ctx context.Context, cfg config.Config) error {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	for _, name := range applied {
		log.Printf("store: applied migration %s", name)
	}
	dataStore := store.NewPostgresStore(db)
	checks := map[string]app.Pinger{"database": dataStore}

	var handle liveHandle
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("live: using redis change notifications")
		redisHandle, err := live.NewRedisHandle(cfg.RedisURL, dataStore)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisHandle.Close()
		handle = redisHandle
		checks["live"] = redisHandle
	} else {
		log.Printf("live: polling postgres every %s", cfg.PollInterval)
		handle = live.NewPollHandle(dataStore, cfg.PollInterval)
	}

	var blobs session.Blobs
	blobStore, err := blob.New(ctx, blob.Options{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	switch {
	case err == nil:
		blobs = blobStore
	case errors.Is(err, blob.ErrNotConfigured):
		log.Printf("blob: MINIO_ENDPOINT not set, file uploads disabled")
	default:
		log.Printf("blob: object storage unavailable, file uploads disabled: %v", err)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db))
	go searchService.ReindexAllFromPG(ctx)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	registry, err := capability.Default()
	if err != nil {
		return fmt.Errorf("build capability registry: %w", err)
	}
	renderer := capability.NewRenderer(registry,
		capability.WithDefaultKey(cfg.DefaultCapability),
		capability.WithRenderHook(func(p capability.Panel) {
			m.Render(p.Capability, string(p.Mode), string(p.Kind))
		}),
	)

	service := app.NewService(cfg, session.Deps{
		DB:        handle,
		Store:     dataStore,
		Blobs:     blobs,
		Renderer:  renderer,
		Metrics:   m,
		Attachers: []session.Attacher{audit.NewHandler(dataStore, handle), searchService},
	}, searchService, checks)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.NewHTTPServer(service, cfg.CORSOrigin, metrics.Handler(reg)).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Xuanwu API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"pandora-chat/internal/auth"
	"pandora-chat/internal/client"
	"pandora-chat/internal/config"
	"pandora-chat/internal/directory"
	"pandora-chat/internal/handlers"
	"pandora-chat/internal/kvstore"
	"pandora-chat/internal/middleware"
	"pandora-chat/internal/notify"
	"pandora-chat/internal/observability"
	"pandora-chat/internal/telemetry"
	"pandora-chat/internal/transport"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "pandora-chat",
		Short: "Realtime DM synchronization daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to TOML config file")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatalf("pandora-chat: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OTLPEndpoint, "pandora-chat")
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	var store kvstore.Store
	if cfg.DBDSN != "" {
		db, err := kvstore.Connect(cfg.DBDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		store = kvstore.NewPostgresStore(db)
	} else {
		log.Printf("no database configured, conversation cache is in-memory only")
		store = kvstore.NewMemoryStore()
	}

	notifier := notify.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPRouting)

	var resolver directory.Resolver
	if cfg.DirectoryURL != "" {
		resolver = directory.NewHTTPResolver(cfg.DirectoryURL, nil)
	}

	authenticator := auth.NewClient(cfg.AuthURL, cfg.ServerKey, nil)
	dialer := transport.NewWebSocketDialer(cfg.ServerURL)

	chat := client.New(cfg.Identity, authenticator, dialer, store, notifier, resolver)
	if err := chat.Start(ctx); err != nil {
		return err
	}
	defer chat.Close()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(otelgin.Middleware("pandora-chat"))
	router.Use(observability.HTTPMetricsMiddleware())

	opsAuth := middleware.TokenAuth(cfg.DebugToken)
	statusHandler := handlers.NewStatusHandler(chat)
	router.GET("/status", opsAuth, statusHandler.GetStatus)
	router.GET("/conversations", opsAuth, statusHandler.ListConversations)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, notifier, cfg.Debug)

	server := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Printf("pandora-chat listening on :%s as %s", cfg.HTTPPort, cfg.Identity)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	return nil
}

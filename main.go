package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatsflow/config"
	"whatsflow/database"
	"whatsflow/internal/bridge"
	"whatsflow/internal/handler"
	"whatsflow/internal/helper"
	"whatsflow/internal/logger"
	customMiddleware "whatsflow/internal/middleware"
	"whatsflow/internal/service"
	"whatsflow/internal/transport"
	"whatsflow/internal/ws"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var version = "dev"

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "whatsflow",
		Short: "Multi-instance WhatsApp session manager",
		Long: `WhatsFlow keeps one WhatsApp companion session per instance, reconnects
them after drops and forwards their events to a backend.`,
		SilenceUsage: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and restore saved instances",
		RunE:  runServe,
	}
	tokenCmd = &cobra.Command{
		Use:   "token [subject]",
		Short: "Issue an operator bearer token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
	tokenTTL  time.Duration
	tokenRole string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "whatsflow.yaml", "path to the YAML config file")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "operator", "role claim")
	rootCmd.AddCommand(serveCmd, tokenCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// deviceStore is the credential backend selected by storage.backend.
type deviceStore interface {
	transport.DeviceStore
	Close() error
}

func openDeviceStore(ctx context.Context, cfg config.StorageConfig, log *logger.WhatsmeowLogger) (deviceStore, error) {
	switch cfg.Backend {
	case "postgres":
		return database.NewPostgresDeviceStore(ctx, cfg.DatabaseURL, log.Sub("store"))
	default:
		return database.NewSQLiteDeviceStore(cfg.AuthDir, log.Sub("store"))
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.Setup(cfg.Logger)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	waLogger := logger.NewWhatsmeowLogger(log, "whatsmeow")
	devices, err := openDeviceStore(ctx, cfg.Storage, waLogger)
	if err != nil {
		return fmt.Errorf("open device store: %w", err)
	}
	defer devices.Close()

	catalog, err := database.OpenCatalog(cfg.Storage.CatalogPath)
	if err != nil {
		return err
	}
	defer catalog.Close()

	notifier := bridge.New(cfg.Bridge)
	defer notifier.Close()
	if !notifier.Enabled() {
		log.Warn("bridge url not set, backend notifications disabled")
	}

	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	manager, err := service.NewManager(service.Options{
		Factory:  transport.NewWhatsmeowFactory(devices, waLogger, cfg.Session.DeviceName),
		Policy:   service.NewReconnectPolicy(cfg.Reconnect),
		Pairing:  service.NewPairingController(cfg.Session.PairingValidity),
		Notifier: notifier,
		Realtime: hub,
		Catalog:  catalog,
		Config: service.ManagerConfig{
			ImportSettle:       cfg.Bridge.ImportSettle,
			ImportWorkers:      cfg.Bridge.ImportWorkers,
			OperationTimeout:   cfg.Session.OperationTimeout,
			DefaultCountryCode: cfg.Session.DefaultCountryCode,
			AutoConnect:        cfg.Session.AutoConnect,
			HeartbeatInterval:  cfg.Session.HeartbeatInterval,
		},
	})
	if err != nil {
		return err
	}
	defer manager.Shutdown()

	if err := manager.Restore(ctx); err != nil {
		log.Error("failed to restore instances", zap.Error(err))
	}
	if err := manager.StartHeartbeat(); err != nil {
		return err
	}

	e := newServer(cfg.Server)
	handler.New(manager, hub).Register(e, customMiddleware.JWTAuth(cfg.Server.JWTSecret))
	if cfg.Server.JWTSecret == "" {
		log.Warn("JWT_SECRET is not set, operator routes are unauthenticated")
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", cfg.Server.Addr), zap.String("version", version))
		if err := e.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

func newServer(cfg config.ServerConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = helper.NewRequestValidator()

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: []string{
			echo.GET,
			echo.POST,
			echo.DELETE,
			echo.OPTIONS,
		},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
		},
	}))
	e.Use(middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health" || c.Path() == "/metrics" || c.Path() == "/ws"
		},
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(cfg.RatePerSecond),
				Burst:     cfg.RateBurst,
				ExpiresIn: cfg.RateWindow,
			},
		),
	}))

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		message := "Internal Server Error"

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			message = fmt.Sprintf("%v", he.Message)
		}
		switch code {
		case http.StatusMethodNotAllowed:
			message = "Method not allowed for this endpoint"
		case http.StatusNotFound:
			message = "Endpoint not found"
		}
		if !c.Response().Committed {
			_ = handler.ErrorResponse(c, code, message, http.StatusText(code), "")
		}
	}
	return e
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Server.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	token, err := customMiddleware.IssueToken(cfg.Server.JWTSecret, args[0], tokenRole, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/tessera-health/ledgerseal/internal/api"
	"github.com/tessera-health/ledgerseal/internal/cas"
	"github.com/tessera-health/ledgerseal/internal/crossref"
	"github.com/tessera-health/ledgerseal/internal/crypto"
	"github.com/tessera-health/ledgerseal/internal/integrity"
	"github.com/tessera-health/ledgerseal/internal/ledger"
	"github.com/tessera-health/ledgerseal/internal/sse"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("ledger_mode", cfg.Ledger.Mode),
		slog.String("store_provider", cfg.Store.Provider),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Resolve the file-encryption key and build the cipher.
	key, ephemeral, err := crypto.Load(cfg.Crypto.KeyHex, cfg.Crypto.KeyFile, cfg.Crypto.AllowEphemeral)
	if err != nil {
		return fmt.Errorf("load encryption key: %w", err)
	}
	if ephemeral {
		logger.Warn("no encryption key configured, using an ephemeral key; files sealed now cannot be decrypted after restart")
	}
	cipher, err := crypto.New(key)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}

	// Initialize the ciphertext blob store.
	store, err := NewStoreProvider(cfg)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	logger.Info("File store initialized",
		slog.String("provider", store.Name()),
		slog.Bool("configured", store.IsConfigured()))

	// Initialize the ledger backend.
	led := NewLedgerBackend(cfg, logger)
	logger.Info("Ledger backend initialized",
		slog.Bool("simulation", led.Simulation()),
		slog.Bool("configured", led.IsConfigured()))

	// SSE broker.
	broker := sse.NewBroker(cfg.Events.LedgerThrottle)
	defer broker.Close()

	svcOpts := []integrity.Option{
		integrity.WithBroker(broker),
		integrity.WithLogger(logger),
	}

	// Optional SQLite cross-reference store.
	if cfg.CrossRef.Enabled() {
		xref, xerr := crossref.Open(cfg.CrossRef.Path)
		if xerr != nil {
			return fmt.Errorf("init crossref store: %w", xerr)
		}
		defer xref.Close()
		svcOpts = append(svcOpts, integrity.WithCrossRef(xref))
		logger.Info("Cross-reference store initialized", slog.String("path", cfg.CrossRef.Path))
	}

	// Build integrity service and API router.
	svc := integrity.NewService(led, store, cipher, svcOpts...)
	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, http.HandlerFunc(broker.ServeHTTP))

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api/v1.
	r.Mount("/api/v1", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Watch MSP credential files when the external backend is active, so
	// availability transitions show up without a restart.
	if cc, ok := led.(*ledger.Chaincode); ok {
		g.Go(func() error {
			return ledger.WatchCredentials(gCtx, cc, logger, func(configured bool) {
				broker.Publish(sse.Event{Type: "ledger.credentials", Data: map[string]string{
					"configured": strconv.FormatBool(configured),
				}})
			})
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// NewStoreProvider builds the configured blob store strategy.
func NewStoreProvider(cfg *Config) (cas.Provider, error) {
	switch cfg.Store.Provider {
	case StoreProviderPinning:
		return cas.NewPinning(cas.PinningOptions{
			Endpoint:  cfg.Store.Pinning.Endpoint,
			APIKey:    cfg.Store.Pinning.APIKey,
			SecretKey: cfg.Store.Pinning.SecretKey,
			Gateway:   cfg.Store.Pinning.Gateway,
			Timeout:   cfg.Store.Timeout,
		}), nil
	case StoreProviderGateway:
		return cas.NewGateway(cas.GatewayOptions{
			Endpoint:      cfg.Store.Gateway.Endpoint,
			ProjectID:     cfg.Store.Gateway.ProjectID,
			ProjectSecret: cfg.Store.Gateway.ProjectSecret,
			Gateway:       cfg.Store.Gateway.Gateway,
			Timeout:       cfg.Store.Timeout,
		}), nil
	case StoreProviderNode:
		return cas.NewNode(cas.NodeOptions{
			URL:     cfg.Store.Node.URL,
			Gateway: cfg.Store.Node.Gateway,
			Timeout: cfg.Store.Timeout,
		}), nil
	case StoreProviderLevelDB:
		return cas.NewLevelDB(cfg.Store.LevelDB.Path)
	case StoreProviderFS:
		return cas.NewFS(cfg.Store.FS.Root)
	default:
		return nil, fmt.Errorf("unknown store provider %q", cfg.Store.Provider)
	}
}

// NewLedgerBackend builds the configured ledger backend.
func NewLedgerBackend(cfg *Config, logger *slog.Logger) ledger.Ledger {
	if cfg.Ledger.Simulation() {
		return ledger.NewMemory()
	}
	return ledger.NewChaincode(ledger.ChaincodeOptions{
		Channel:         cfg.Ledger.Chaincode.Channel,
		Chaincode:       cfg.Ledger.Chaincode.Name,
		PeerBinary:      cfg.Ledger.Chaincode.PeerBinary,
		OrdererEndpoint: cfg.Ledger.Chaincode.OrdererEndpoint,
		TLSEnabled:      cfg.Ledger.Chaincode.TLSEnabled,
		TLSCertFile:     cfg.Ledger.Chaincode.TLSCertFile,
		CertFile:        cfg.Ledger.Chaincode.CertFile,
		KeyFile:         cfg.Ledger.Chaincode.KeyFile,
		Timeout:         cfg.Ledger.Chaincode.Timeout,
	}, logger)
}

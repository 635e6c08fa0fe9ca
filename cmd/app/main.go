package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/tessera-health/ledgerseal/internal"
	"github.com/tessera-health/ledgerseal/internal/crossref"
	"github.com/tessera-health/ledgerseal/internal/crypto"
	"github.com/tessera-health/ledgerseal/internal/integrity"
	"github.com/tessera-health/ledgerseal/internal/mcpserver"
	pkgconfig "github.com/tessera-health/ledgerseal/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

// runKeygen prints a fresh file-encryption key as hex, ready for the
// crypto.key_hex config field or a key file.
func runKeygen(_ context.Context, _ *cli.Command) error {
	key, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	fmt.Println(hex.EncodeToString(key))
	return nil
}

// runMCP serves the integrity tools over MCP stdio. Stdout carries the
// protocol, so logs go to stderr.
func runMCP(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	key, ephemeral, err := crypto.Load(cfg.Crypto.KeyHex, cfg.Crypto.KeyFile, cfg.Crypto.AllowEphemeral)
	if err != nil {
		return fmt.Errorf("load encryption key: %w", err)
	}
	if ephemeral {
		logger.Warn("no encryption key configured, using an ephemeral key")
	}
	cipher, err := crypto.New(key)
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}

	store, err := internal.NewStoreProvider(cfg)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	led := internal.NewLedgerBackend(cfg, logger)

	svcOpts := []integrity.Option{integrity.WithLogger(logger)}
	if cfg.CrossRef.Enabled() {
		xref, xerr := crossref.Open(cfg.CrossRef.Path)
		if xerr != nil {
			return fmt.Errorf("init crossref store: %w", xerr)
		}
		defer xref.Close()
		svcOpts = append(svcOpts, integrity.WithCrossRef(xref))
	}

	svc := integrity.NewService(led, store, cipher, svcOpts...)
	return mcpserver.New(svc).ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:   "ledgerseal",
		Usage:  "Record integrity service: canonical digests sealed into a tamper-evident ledger, with encrypted file storage",
		Action: runServe,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "keygen",
				Usage:  "Generate a file-encryption key and print it as hex",
				Action: runKeygen,
			},
			{
				Name:   "mcp",
				Usage:  "Serve integrity tools over MCP stdio",
				Action: runMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

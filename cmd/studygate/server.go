package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/afadel/studygate/internal/api"
	"github.com/afadel/studygate/internal/artifact"
	"github.com/afadel/studygate/internal/config"
	"github.com/afadel/studygate/internal/gateway"
	"github.com/afadel/studygate/internal/jobs"
	"github.com/afadel/studygate/internal/keypool"
	"github.com/afadel/studygate/internal/ledger"
	"github.com/afadel/studygate/internal/provider"
	"github.com/afadel/studygate/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the studygate server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and key pool status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "studygate version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Server.Token == "" {
		return fmt.Errorf("no API token configured, set STUDYGATE_SERVER_TOKEN")
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	artifacts, err := artifact.New(cfg.Storage.ArtifactDir)
	if err != nil {
		return fmt.Errorf("opening artifact store: %w", err)
	}

	pool := keypool.New(store, keypool.Options{
		DefaultRPM:       cfg.Quota.KeyRequestsPerMinute,
		CooldownWindow:   cfg.Gateway.CooldownWindow,
		DisableThreshold: cfg.Quota.DisableThreshold,
		FallbackKeys:     cfg.Provider.FallbackKeys,
	})

	usage := ledger.New(store, func() int {
		if settings, err := store.GetSettings(); err == nil && settings.RequestsPerHour > 0 {
			return settings.RequestsPerHour
		}
		return cfg.Quota.RequestsPerHour
	})

	client := provider.NewClientWithBaseURL(cfg.Provider.BaseURL)
	gwCfg := cfg.Gateway
	gwCfg.Model = cfg.Provider.DefaultModel
	gw := gateway.New(pool, client, store, usage, gwCfg)

	handler := api.NewHandler(api.Deps{
		Gateway:   gw,
		Pool:      pool,
		Ledger:    usage,
		Artifacts: artifacts,
		Store:     store,
		Token:     cfg.Server.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	worker := jobs.NewWorker(store, gw, artifacts, 500*time.Millisecond)

	mcpSrv := api.NewMCPServer(api.MCPDeps{Gateway: gw, Keys: pool})
	stdioSrv := server.NewStdioServer(mcpSrv)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "studygate listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})

	g.Go(func() error {
		if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func showStatus(ctx context.Context) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	resp, err := client.get(ctx, "/health")
	if err != nil {
		printError("server not running")
		return err
	}
	resp.Body.Close()
	printSuccess("server is up at %s", client.baseURL)

	keysResp, err := client.get(ctx, "/v1/keys/health")
	if err != nil {
		return err
	}
	var body struct {
		Keys []keypool.KeyHealth `json:"keys"`
	}
	if err := decodeJSON(keysResp, &body); err != nil {
		return err
	}

	if len(body.Keys) == 0 {
		printWarning("no managed credentials, fallback env keys only")
		return nil
	}
	for _, k := range body.Keys {
		printStatus(k.Label, "%s (…%s) errors=%d requests=%d", k.Status, k.Hint, k.ErrorCount, k.TotalRequests)
	}
	return nil
}

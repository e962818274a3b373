// ABOUTME: Entry point for the hypertube edge gateway
// ABOUTME: Serves the auth API locally and proxies everything else

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/hypertube/gateway/internal/config"
	"github.com/hypertube/gateway/internal/gateway"
	"github.com/hypertube/gateway/internal/identity"
	"github.com/hypertube/gateway/internal/resilience"
	"github.com/hypertube/gateway/internal/store"
	"github.com/hypertube/gateway/internal/token"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _                          _         _
| |__  _   _ _ __   ___ _ _| |_ _   _| |__   ___
| '_ \| | | | '_ \ / _ \ '__| __| | | | '_ \ / _ \
| | | | |_| | |_) |  __/ |  | |_| |_| | |_) |  __/
|_| |_|\__, | .__/ \___|_|   \__|\__,_|_.__/ \___|
       |___/|_|                        gateway
`

// getConfigPath returns the path to the gateway config file.
// Priority: HYPERTUBE_CONFIG env var > XDG_CONFIG_HOME/hypertube/gateway.yaml > ~/.config/hypertube/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("HYPERTUBE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "hypertube", "gateway.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: hypertube-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve        Start the edge gateway")
		fmt.Println("  mint-secret  Generate a random JWT signing secret")
		fmt.Println("  health       Check gateway health")
		fmt.Println("  version      Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "mint-secret":
		err = runMintSecret()
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	green := color.New(color.FgGreen)

	cyan.Print(banner)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Upstreams: %d routes over %d upstreams\n", len(cfg.Routes), len(cfg.Upstreams))
	if n := len(cfg.OAuth2.Providers); n > 0 {
		green.Print("    ▶ ")
		fmt.Printf("OAuth2:    %d provider(s)\n", n)
	}
	fmt.Println()

	logger.Info("starting hypertube-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	codec := token.NewCodec([]byte(cfg.Auth.JWTSecret))
	tokens := token.NewService(codec, st, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)

	var flow *identity.Flow
	if len(cfg.OAuth2.Providers) > 0 {
		providers, err := identity.BuildProviders(cfg.OAuth2.Providers, cfg.Server.PublicURL)
		if err != nil {
			return fmt.Errorf("building oauth2 providers: %w", err)
		}
		flow = identity.NewFlow(providers, st)
		defer flow.Close()
	}

	table, err := gateway.NewRouteTable(cfg.Upstreams, cfg.Routes)
	if err != nil {
		return fmt.Errorf("building route table: %w", err)
	}

	rl := cfg.Resilience.RateLimit
	limiter := resilience.NewRateLimiter(*rl.Enabled, map[string]resilience.ClassLimit{
		resilience.ClassDefault: {ReplenishRate: rl.DefaultReplenishRate, BurstCapacity: rl.DefaultBurstCapacity},
		resilience.ClassAuth:    {ReplenishRate: rl.AuthReplenishRate, BurstCapacity: rl.AuthBurstCapacity},
	})

	cb := cfg.Resilience.CircuitBreaker
	rt := cfg.Resilience.Retry
	chain := resilience.NewChain(limiter,
		resilience.BreakerSettings{
			WindowSize:           cb.WindowSize,
			MinimumCalls:         cb.MinimumCalls,
			FailureRateThreshold: cb.FailureRateThreshold,
			WaitDuration:         cb.WaitDuration,
			HalfOpenCalls:        cb.HalfOpenCalls,
		},
		resilience.RetrySettings{
			MaxAttempts:     rt.MaxAttempts,
			InitialInterval: rt.InitialInterval,
			MaxInterval:     rt.MaxInterval,
			Multiplier:      rt.Multiplier,
		})

	authHandler := gateway.NewAuthHandler(st, tokens, flow, cfg.Frontend.URL, cfg.Auth.RequireVerified)
	gw := gateway.New(table, chain, limiter, authHandler, tokens)

	go tokens.RunSweeper(ctx, cfg.Auth.SessionSweep)

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// runMintSecret prints a random secret suitable for auth.jwt_secret
func runMintSecret() error {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating secret: %w", err)
	}
	fmt.Println(base64.StdEncoding.EncodeToString(secret))
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

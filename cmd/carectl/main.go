package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/devel-fonseca/ilpi-core/pkg/cachestore"
	"github.com/devel-fonseca/ilpi-core/pkg/config"
	"github.com/devel-fonseca/ilpi-core/pkg/directory"
	"github.com/devel-fonseca/ilpi-core/pkg/observability"
	"github.com/devel-fonseca/ilpi-core/pkg/permissions"
	"github.com/devel-fonseca/ilpi-core/pkg/tenancy"
)

func main() {
	var (
		warmupAll        = flag.Bool("warmup", false, "Warm the schema and tenant caches for every active tenant")
		warmupTenant     = flag.String("warmup-tenant", "", "Warm the caches for a single tenant ID")
		invalidateTenant = flag.String("invalidate-tenant", "", "Invalidate the schema and tenant caches for a tenant ID")
		invalidateUser   = flag.String("invalidate-user", "", "Invalidate the permission cache for a user ID")
		clear            = flag.String("clear", "", "Clear a cache layer: schema, tenant, permission or all")
		stats            = flag.Bool("stats", false, "Print cache entry counts and connection state")
		health           = flag.Bool("health", false, "Check Redis and Postgres health")
		serve            = flag.String("serve", "", "Run as a sidecar: scheduled warm-up plus health and metrics endpoints on this address")
		timeout          = flag.Duration("timeout", 30*time.Second, "Overall operation timeout")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	if !cfg.Observability.MetricsEnabled {
		metrics = observability.NopMetrics()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := cachestore.NewStore(cfg.Redis, logger, metrics)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	dir, err := directory.Open(cfg.Postgres.URL, cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns, logger, metrics)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer dir.Close()

	profiles := permissions.DefaultProfiles()
	if cfg.Cache.PositionProfilesPath != "" {
		profiles, err = permissions.LoadProfiles(cfg.Cache.PositionProfilesPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	schemas := tenancy.NewSchemaCache(store, dir, cfg.Environment, cfg.Cache.SchemaTTL, cfg.Cache.JitterFraction, logger, metrics)
	tenants := tenancy.NewTenantCache(store, dir, cfg.Cache.TenantTTL, logger, metrics)
	engine := permissions.NewEngine(profiles)
	perms := permissions.NewSnapshotCache(store, dir, engine, cfg.Cache.PermissionTTL, logger, metrics)
	warmer := tenancy.NewWarmer(schemas, tenants, dir, logger)

	switch {
	case *serve != "":
		if err := runServe(*serve, cfg.Cache.WarmupSchedule, warmer, dir, store, registry, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	case *warmupAll:
		warmed, err := warmer.WarmUpAll(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Warmed %d tenants\n", warmed)

	case *warmupTenant != "":
		if err := warmer.WarmUp(ctx, *warmupTenant); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Warmed tenant %s\n", *warmupTenant)

	case *invalidateTenant != "":
		schemas.Invalidate(ctx, *invalidateTenant, "manual")
		tenants.Invalidate(ctx, *invalidateTenant, "manual")
		fmt.Printf("Invalidated tenant %s\n", *invalidateTenant)

	case *invalidateUser != "":
		perms.Invalidate(ctx, *invalidateUser, "manual")
		fmt.Printf("Invalidated user %s\n", *invalidateUser)

	case *clear != "":
		var n int
		switch *clear {
		case "schema":
			n = schemas.ClearAll(ctx)
		case "tenant":
			n = tenants.ClearAll(ctx)
		case "permission":
			n = perms.ClearAll(ctx)
		case "all":
			n = schemas.ClearAll(ctx) + tenants.ClearAll(ctx) + perms.ClearAll(ctx)
		default:
			fmt.Fprintf(os.Stderr, "Error: unknown layer %q\n", *clear)
			os.Exit(1)
		}
		fmt.Printf("Cleared %d entries\n", n)

	case *health:
		checker := observability.NewHealthChecker(dir.DB(), store.Client())
		status := checker.Check(ctx)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if status.Status == observability.StatusUnhealthy {
			os.Exit(1)
		}

	case *stats:
		tenantEntries, _ := tenants.Stats(ctx)
		permEntries, _ := perms.Stats(ctx)
		out := map[string]interface{}{
			"redis_connected":    store.Connected(),
			"tenant_entries":     tenantEntries,
			"permission_entries": permEntries,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

	default:
		flag.Usage()
		os.Exit(2)
	}
}

// runServe keeps the caches warm on a schedule and exposes liveness,
// readiness and metrics endpoints until interrupted.
func runServe(addr, schedule string, warmer *tenancy.Warmer, dir *directory.Postgres, store *cachestore.Store, registry *prometheus.Registry, logger *observability.Logger) error {
	if schedule != "" {
		if err := warmer.Start(schedule); err != nil {
			return err
		}
		defer warmer.Stop()
	}

	checker := observability.NewHealthChecker(dir.DB(), store.Client())
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", checker.Liveness)
	mux.HandleFunc("/readyz", checker.Readiness)
	observability.RegisterMetricsEndpoint(mux, registry)

	server := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	logger.WithField("addr", addr).Info("sidecar listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

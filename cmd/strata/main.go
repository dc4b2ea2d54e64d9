// Spins up the strata cache engine: wires the three tiers, the unified cache and the
// invalidation router, serves prometheus metrics, and runs the periodic cleanup sweep.

package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/oakmist/strata/pkg/cache"
	"github.com/oakmist/strata/pkg/category"
	"github.com/oakmist/strata/pkg/telemetry"
	"github.com/oakmist/strata/pkg/tier"
	"github.com/oakmist/strata/pkg/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	printVersion  = flag.Bool("print_version", false, "Print the version and exit.")
	shardCount    = flag.Int("fast_shards", 16, "Number of shards in the fast in-process tier.")
	redisAddr     = flag.String("redis_addr", "", "host:port of the remote tier Redis server; empty disables the remote tier.")
	redisPassword = flag.String("redis_password", "", "Password for the remote tier Redis server.")
	redisDB       = flag.Int("redis_db", 0, "Redis database number for the remote tier.")
	dataDir       = flag.String("data_dir", "./data", "Directory for the local tier entry files; empty disables the local tier.")
	metricsAddr   = flag.String("metrics_addr", ":9460", "Address to serve prometheus metrics on.")
	sweepInterval = flag.Duration("sweep_interval", 10*time.Minute, "How often to sweep lazily-expired entries; 0 disables the sweeper.")
)

// buildTiers constructs the three tier adapters from flags, substituting no-op tiers for the
// ones that are disabled.
func buildTiers() (fast, remote, local tier.Adapter) {
	fast = tier.NewMemory(*shardCount)

	if *redisAddr != "" {
		remote = tier.NewRedis(tier.RedisConfig{Addr: *redisAddr, Password: *redisPassword, DB: *redisDB})
	} else {
		slog.Info("No redis_addr configured, remote tier disabled.")
		remote = tier.NewNoOp("remote")
	}

	if *dataDir != "" {
		disk, err := tier.NewDisk(*dataDir)
		if err != nil {
			// Fail open even at startup: a missing local tier costs recomputes, not availability.
			slog.Error("Failed to open local tier, running without it.", "dir", *dataDir, "error", err)
			local = tier.NewNoOp("local")
		} else {
			local = disk
		}
	} else {
		slog.Info("No data_dir configured, local tier disabled.")
		local = tier.NewNoOp("local")
	}
	return fast, remote, local
}

func main() {
	flag.Parse()
	utils.InitLogging()

	if *printVersion {
		slog.Info("Strata build info.", "version", utils.Version, "commit", utils.Commit, "build", utils.BuildTime)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, os.Kill)

	go func() { // Listen for OS interrupts in the background.
		sig := <-signals
		slog.Info("Received termination signal, cancelling engine context.", "signal", sig)
		cancel()
	}()

	emitter := telemetry.NewAsync(telemetry.Prometheus{}, 4096)
	defer emitter.Close()

	fast, remote, local := buildTiers()
	unified := cache.NewUnified(fast, remote, local, category.DefaultRegistry(), emitter)

	go func() { // Serve prometheus metrics.
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			slog.Error("Metrics server stopped.", "error", err)
		}
	}()

	if *sweepInterval > 0 {
		runSweeper(ctx, unified, *sweepInterval)
	} else {
		<-ctx.Done()
	}

	snapshot := unified.Statistics()
	slog.Info("Strata engine stopped.", "hits", snapshot.Hits, "misses", snapshot.Misses,
		"evictions", snapshot.Evictions, "bypasses", snapshot.Bypasses)
}

// runSweeper reclaims lazily-expired entries on a ticker until the context is cancelled. The
// sweep is an optimization only; expiry correctness never depends on it running.
func runSweeper(ctx context.Context, unified *cache.Unified, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := unified.Cleanup(ctx)
			slog.Debug("Cleanup sweep finished.", "removed", removed)
		}
	}
}

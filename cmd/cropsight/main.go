// Copyright (C) 2025 Cropsight Labs.
// See LICENSE for copying information.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/cropsight/cropsight"
	"github.com/cropsight/cropsight/accounting"
	"github.com/cropsight/cropsight/api"
	"github.com/cropsight/cropsight/jobs"
	"github.com/cropsight/cropsight/scenes/copernicus"
	"github.com/cropsight/cropsight/storage/minio"
	"github.com/cropsight/cropsight/tilecache"
)

var (
	rootCmd = &cobra.Command{
		Use:   "cropsight",
		Short: "Satellite imagery ingestion and vegetation analytics service",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the cropsight service",
		RunE:  cmdRun,
	}
)

func init() {
	flags := runCmd.Flags()

	flags.String("redis-address", "redis://127.0.0.1:6379?db=0", "redis url for metadata, counters and caches")
	flags.String("api.address", "127.0.0.1:8080", "server address of the http api")
	flags.Duration("worker.interval", 5*time.Second, "how often to poll for pending jobs")
	flags.Int("worker.concurrency", 4, "how many jobs to execute at once")
	flags.Duration("tilecache.ttl", 24*time.Hour, "how long rendered tiles stay cached")

	flags.String("storage.endpoint", "127.0.0.1:9000", "s3 compatible storage endpoint")
	flags.String("storage.access-key", "", "storage access key")
	flags.String("storage.secret-key", "", "storage secret key")
	flags.Bool("storage.use-tls", false, "connect to storage over tls")
	flags.String("storage.region", "", "storage region")

	flags.String("provider.base-url", "https://dataspace.copernicus.eu/api/v1/catalog", "scene provider base url")
	flags.String("provider.token", "", "scene provider access token")
	flags.String("provider.collection", "sentinel-s2-l2a-cogs", "scene collection to search")
	flags.Duration("provider.request-timeout", 2*time.Minute, "timeout for a single catalog request")
	flags.Duration("provider.max-retry-time", 5*time.Minute, "give up retrying a request after this long")

	flags.Float64("limits.monthly-ha", accounting.DefaultLimits().MonthlyHa, "default monthly processed-area limit in hectares")
	flags.Float64("limits.daily-ha", accounting.DefaultLimits().DailyHa, "default area ceiling in hectares for any single request")
	flags.Int64("limits.daily-download-jobs", accounting.DefaultLimits().DailyDownloadJobs, "default daily ceiling for download jobs")
	flags.Int64("limits.daily-process-jobs", accounting.DefaultLimits().DailyProcessJobs, "default daily ceiling for process jobs")
	flags.Int64("limits.daily-calculate-jobs", accounting.DefaultLimits().DailyCalculateJobs, "default daily ceiling for calculate_index jobs")

	viper.SetEnvPrefix("cropsight")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlags(flags)

	rootCmd.AddCommand(runCmd)
}

func loadConfig() cropsight.Config {
	return cropsight.Config{
		RedisAddress: viper.GetString("redis-address"),
		Storage: minio.Config{
			Endpoint:  viper.GetString("storage.endpoint"),
			AccessKey: viper.GetString("storage.access-key"),
			SecretKey: viper.GetString("storage.secret-key"),
			UseTLS:    viper.GetBool("storage.use-tls"),
			Region:    viper.GetString("storage.region"),
		},
		Provider: copernicus.Config{
			BaseURL:        viper.GetString("provider.base-url"),
			Token:          viper.GetString("provider.token"),
			Collection:     viper.GetString("provider.collection"),
			RequestTimeout: viper.GetDuration("provider.request-timeout"),
			MaxRetryTime:   viper.GetDuration("provider.max-retry-time"),
		},
		Limits: accounting.Limits{
			MonthlyHa:          viper.GetFloat64("limits.monthly-ha"),
			DailyHa:            viper.GetFloat64("limits.daily-ha"),
			DailyDownloadJobs:  viper.GetInt64("limits.daily-download-jobs"),
			DailyProcessJobs:   viper.GetInt64("limits.daily-process-jobs"),
			DailyCalculateJobs: viper.GetInt64("limits.daily-calculate-jobs"),
		},
		Worker: jobs.WorkerConfig{
			Interval:    viper.GetDuration("worker.interval"),
			Concurrency: viper.GetInt("worker.concurrency"),
		},
		TileCache: tilecache.Config{
			TTL: viper.GetDuration("tilecache.ttl"),
		},
		API: api.Config{
			Address: viper.GetString("api.address"),
		},
	}
}

func cmdRun(cmd *cobra.Command, args []string) (err error) {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	peer, err := cropsight.New(ctx, log, loadConfig())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := peer.Close(); closeErr != nil {
			log.Error("failed to close peer", zap.Error(closeErr))
		}
	}()

	log.Info("cropsight starting",
		zap.String("api", peer.API.Listener.Addr().String()))
	return peer.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

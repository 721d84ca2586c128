package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/vriskhq/vrisk/pkg/vriskhttp"
	"github.com/vriskhq/vrisk/server/appliance"
	"github.com/vriskhq/vrisk/server/config"
	"github.com/vriskhq/vrisk/server/datastore/mysql"
	"github.com/vriskhq/vrisk/server/pipeline"
	"github.com/vriskhq/vrisk/server/worker"
)

func createWorkerCmd(configManager config.Manager) *cobra.Command {
	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "Launch the vrisk background task worker",
		Long: `
Launch the vrisk background task worker

The worker claims queued tasks from the database and runs the feed
imports, appliance exports and risk recomputes. Run exactly one worker
per deployment.
`,
		Run: func(cmd *cobra.Command, args []string) {
			config := configManager.LoadConfig()
			if err := resolvePasswords(&config); err != nil {
				initFatal(err, "resolving passwords")
			}

			logger := initLogger(config)

			ds, err := mysql.New(config.Mysql, clock.C, mysql.Logger(logger))
			if err != nil {
				initFatal(err, "initializing datastore")
			}
			defer ds.Close()

			if err := ds.HealthCheck(); err != nil {
				initFatal(err, "connecting to database")
			}

			p := pipeline.New(ds, logger)
			feedClient := vriskhttp.NewClient(vriskhttp.WithTimeout(10 * time.Minute))

			w := worker.NewWorker(ds, logger, clock.C, config.Tasks.PollInterval, config.Tasks.LogsDir)

			w.Register(&worker.EPSSImport{
				Pipeline: p,
				Client:   feedClient,
				FeedURL:  config.Feeds.EPSSURL,
				DataDir:  config.Tasks.DataDir,
			})
			w.Register(&worker.ExploitDBImport{
				Pipeline: p,
				Client:   feedClient,
				FeedURL:  config.Feeds.ExploitDBURL,
				DataDir:  config.Tasks.DataDir,
			})
			w.Register(&worker.CVEImport{
				Pipeline:    p,
				Client:      feedClient,
				BaseURL:     config.Feeds.NVDBaseURL,
				StartYear:   config.Feeds.NVDStartYear,
				CurrentYear: func() int { return clock.C.Now().Year() },
				DataDir:     config.Tasks.DataDir,
			})
			w.Register(&worker.MetasploitDownload{
				Pipeline: p,
				Client:   feedClient,
				FeedURL:  config.Feeds.MetasploitURL,
				DataDir:  config.Tasks.DataDir,
			})
			w.Register(&worker.HostsImport{
				Datastore: ds,
				Pipeline:  p,
				Logger:    logger,
			})
			w.Register(&worker.VMManualImport{
				Datastore: ds,
				Pipeline:  p,
				Logger:    logger,
				DataDir:   config.Tasks.DataDir,
			})
			w.Register(&worker.RiskRecompute{Pipeline: p})
			w.Register(&worker.LogCleanup{
				LogsDir:   config.Tasks.LogsDir,
				Retention: time.Duration(config.Tasks.LogRetentionDays) * 24 * time.Hour,
			})

			// VM import needs appliance credentials. Without them the task
			// type stays unregistered and enqueued tasks fail with a clear
			// message instead of a broken export.
			if config.Appliance.Address != "" {
				client, err := appliance.NewClient(config.Appliance, logger)
				if err != nil {
					initFatal(err, "initializing appliance client")
				}
				w.Register(&worker.VMImport{
					Datastore: ds,
					Pipeline:  p,
					Client:    client,
					Logger:    logger,
					DataDir:   config.Tasks.DataDir,
					OSExclude: config.Appliance.OSExcludeList(),
					RowLimit:  config.Appliance.ExportLimit,
				})
			} else {
				level.Warn(logger).Log("msg", "appliance not configured, vm_import disabled")
			}

			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				sig := make(chan os.Signal, 1)
				signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
				<-sig
				cancel()
			}()

			if err := w.Start(ctx); err != nil {
				level.Error(logger).Log("msg", "worker terminated", "err", err)
				os.Exit(1)
			}
			level.Info(logger).Log("msg", "worker stopped")
		},
	}

	return workerCmd
}

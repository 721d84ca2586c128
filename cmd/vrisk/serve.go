package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/vriskhq/vrisk/server/config"
	"github.com/vriskhq/vrisk/server/datastore/mysql"
	"github.com/vriskhq/vrisk/server/pipeline"
	"github.com/vriskhq/vrisk/server/service"
)

func createServeCmd(configManager config.Manager) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Launch the vrisk API server",
		Long: `
Launch the vrisk API server

Use vrisk serve to run the HTTP API. Run vrisk worker alongside it to
process the background tasks the API enqueues.
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
			svc := service.NewService(ds, p, logger, clock.C, config.Tasks.DataDir)

			var handler http.Handler = service.MakeHandler(svc, logger)
			if prefix := strings.TrimSuffix(config.Server.URLPrefix, "/"); prefix != "" {
				if !strings.HasPrefix(prefix, "/") {
					prefix = "/" + prefix
				}
				handler = http.StripPrefix(prefix, handler)
			}

			srv := &http.Server{
				Addr:              config.Server.Address,
				Handler:           handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errs := make(chan error, 2)
			go func() {
				level.Info(logger).Log("msg", "serving", "address", config.Server.Address)
				errs <- srv.ListenAndServe()
			}()
			go func() {
				sig := make(chan os.Signal, 1)
				signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
				<-sig
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				errs <- srv.Shutdown(ctx)
			}()

			if err := <-errs; err != nil && err != http.ErrServerClosed {
				level.Error(logger).Log("msg", "server terminated", "err", err)
				os.Exit(1)
			}
			level.Info(logger).Log("msg", "server stopped")
		},
	}

	return serveCmd
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dirsync/internal/server"
	"dirsync/pkg/telemetry"
)

// newServeCmd creates the `serve` command, which runs the replication
// changelog server in the foreground until interrupted. The server opens
// every configured domain's changelog, runs the retention loop, and serves
// metrics when a metrics address is configured.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the replication changelog server",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := loadedManifest()
			if err != nil {
				return err
			}

			store, err := openStateStore(manifest)
			if err != nil {
				return err
			}
			defer store.Close()

			manager, err := server.NewManager(store, manifest)
			if err != nil {
				return err
			}

			var metrics *telemetry.Collector
			if manifest.MetricsAddr != "" {
				metrics = telemetry.NewCollector()
				if err := metrics.Start(manifest.MetricsAddr); err != nil {
					return err
				}
				tracer := telemetry.NewTracer(telemetry.TracerOptions{Enabled: appConfig.GetBool("DIRSYNC_TRACE")})
				manager.SetTelemetry(metrics, tracer)
			}

			if err := manager.Start(); err != nil {
				return err
			}

			interrupted := make(chan os.Signal, 1)
			signal.Notify(interrupted, os.Interrupt, syscall.SIGTERM)
			<-interrupted

			manager.Stop()
			if metrics != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = metrics.Stop(ctx)
			}
			return nil
		},
	}
}

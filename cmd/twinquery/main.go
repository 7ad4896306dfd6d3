package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"

	"github.com/Belphemur/TwinQuery/internal/client"
	"github.com/Belphemur/TwinQuery/internal/config"
)

var (
	endpointFlag string
	sasTokenFlag string
	pageSizeFlag int
)

var rootCmd = &cobra.Command{
	Use:           "twinquery",
	Short:         "Query and update IoT hub device twins",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.GetConfig()
		if endpointFlag != "" {
			cfg.Hub.Endpoint = endpointFlag
		}
		if sasTokenFlag != "" {
			cfg.Hub.SASToken = sasTokenFlag
		}
		if cmd.Flags().Changed("page-size") {
			cfg.Query.PageSize = pageSizeFlag
		}
		if cfg.Hub.Endpoint == "" {
			return fmt.Errorf("hub endpoint is not configured (set hub.endpoint, APP_HUB_ENDPOINT or --endpoint)")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&endpointFlag, "endpoint", "", "hub endpoint, e.g. https://my-hub.azure-devices.net")
	rootCmd.PersistentFlags().StringVar(&sasTokenFlag, "sas-token", "", "shared access signature used as Authorization header")
	rootCmd.PersistentFlags().IntVar(&pageSizeFlag, "page-size", 0, "maximum twins per page requested from the hub")

	rootCmd.AddCommand(newQueryCmd(), newTwinCmd(), newServeCmd())
}

// newClient builds a hub client from the effective configuration.
func newClient() client.Client {
	return client.NewClient(config.GetConfig())
}

func initSentry(cfg *config.Config) bool {
	if cfg.Sentry.DSN == "" {
		return false
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     config.GetUserAgent(),
	})
	if err != nil {
		logger := config.GetLogger()
		logger.Warn().Err(err).Msg("Sentry disabled")
		return false
	}
	return true
}

func main() {
	cfg := config.GetConfig()
	if initSentry(cfg) {
		defer sentry.Flush(2 * time.Second)
	}

	// Commands see a context cancelled on SIGINT/SIGTERM and stop between pages.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		sentry.Flush(2 * time.Second)
		os.Exit(1)
	}
}

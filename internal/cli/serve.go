package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/starkpass/starkpass/internal/daemon"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("host", "", "Listen host (overrides api.host)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides api.port)")
	serveCmd.Flags().Bool("metrics", false, "Expose Prometheus metrics on /metrics")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the StarkPass HTTP API",
	Long: `Run the HTTP API and the profile event stream. The persisted wallet is
reconnected on start and the profile follows every session change until the
process receives SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.API.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.API.Port = port
	}
	if metrics, _ := cmd.Flags().GetBool("metrics"); metrics {
		cfg.API.Metrics = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := daemon.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Serve(ctx)
}

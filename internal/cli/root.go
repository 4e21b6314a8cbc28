// Package cli implements the starkpass command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/starkpass/starkpass/internal/daemon"
	"github.com/starkpass/starkpass/internal/domain"
)

var (
	configPath string
	logLevel   string
	jsonOutput bool

	// cfg is loaded once per invocation by the root PersistentPreRunE.
	cfg daemon.Config
)

var rootCmd = &cobra.Command{
	Use:   "starkpass",
	Short: "Web3 quests, badges and credentials",
	Long: `StarkPass tracks quest progress, badges and verifiable credentials for a
connected wallet. Badges and credentials are minted on a ledger (an
in-process mock or a remote contract); quest progress is kept locally.

Run 'starkpass serve' for the HTTP API, or use the one-shot commands below.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default $STARKPASS_HOME/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of text")
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		msg := err.Error()
		if domain.CodeOf(err) != "" {
			msg = domain.UserMessage(err)
		}
		fmt.Fprintln(os.Stderr, "Error:", msg)
	}
	return err
}

func loadConfig(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = daemon.ConfigPath()
	}
	loaded, err := daemon.LoadConfig(path)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	cfg = loaded
	return setupLogging(cfg.Log.Level, cmd.ErrOrStderr())
}

func setupLogging(level string, w io.Writer) error {
	lvl, err := log.LvlFromString(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd())
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(w, lvl, color)))
	return nil
}

// withDaemon assembles the application, restores the persisted wallet and
// runs fn. Everything is released afterwards.
func withDaemon(cmd *cobra.Command, fn func(ctx context.Context, d *daemon.Daemon) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	d, err := daemon.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	if sess, err := d.Restore(ctx); err != nil {
		log.Warn("Profile restore failed", "address", sess.Address, "err", err)
	}
	return fn(ctx, d)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/starkpass/starkpass/internal/daemon"
)

// ─── Wallet Commands ────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(connectorsCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(signCmd)
}

var connectorsCmd = &cobra.Command{
	Use:   "connectors",
	Short: "List wallet connectors",
	Args:  cobra.NoArgs,
	RunE:  runConnectors,
}

func runConnectors(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		all := d.Registry.All()
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), all)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tAVAILABLE")
		for _, c := range all {
			fmt.Fprintf(tw, "%s\t%s\t%v\n", c.ID, c.DisplayName, c.Available)
		}
		return tw.Flush()
	})
}

var connectCmd = &cobra.Command{
	Use:   "connect CONNECTOR_ID",
	Short: "Connect a wallet and remember it",
	Long: `Connect through the named connector (see 'starkpass connectors'). The
connector is remembered and silently reconnected by later commands.`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

func runConnect(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		sess, err := d.Sessions.Connect(ctx, args[0])
		if err != nil {
			return err
		}
		if _, err := d.Profile.LoadForAddress(ctx, sess.Address); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), sess)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Connected %s on %s via %s\n", sess.Address, sess.NetworkName(), sess.ConnectorID)
		return nil
	})
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Disconnect the wallet and forget it",
	Args:  cobra.NoArgs,
	RunE:  runDisconnect,
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		d.Sessions.Disconnect(ctx)
		fmt.Fprintln(cmd.OutOrStdout(), "Disconnected")
		return nil
	})
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the current wallet session",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func runWhoami(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		sess := d.Sessions.Session()
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), sess)
		}
		if !sess.IsConnected() {
			fmt.Fprintln(cmd.OutOrStdout(), "Not connected")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s on %s via %s\n", sess.Address, sess.NetworkName(), sess.ConnectorID)
		return nil
	})
}

var signCmd = &cobra.Command{
	Use:   "sign MESSAGE",
	Short: "Sign a message with the connected wallet",
	Args:  cobra.ExactArgs(1),
	RunE:  runSign,
}

func runSign(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		sig, err := d.Sessions.SignMessage(ctx, []byte(args[0]))
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), map[string]string{
				"address":   d.Sessions.Session().Address,
				"signature": sig,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), sig)
		return nil
	})
}

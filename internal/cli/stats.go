package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/starkpass/starkpass/internal/daemon"
	"github.com/starkpass/starkpass/internal/domain"
)

// ─── Stats Commands ─────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ecosystem statistics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		stats, err := d.Profile.Stats()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), stats)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Users:        %d\n", stats.TotalUsers)
		fmt.Fprintf(w, "Quests:       %d\n", stats.TotalQuests)
		fmt.Fprintf(w, "Completions:  %d (%.1f%% average)\n", stats.TotalCompletions, stats.AverageCompletionRate)
		fmt.Fprintf(w, "Claims:       %d\n\n", stats.TotalCredentialClaims)

		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CAMPAIGN\tCLAIMS\tRATE")
		for _, c := range stats.Campaigns {
			fmt.Fprintf(tw, "%s\t%d/%d\t%.1f%%\n", c.Title, c.TotalClaims, c.MaxClaims, c.ClaimRate)
		}
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "CONTRIBUTOR\tXP\tLEVEL")
		for _, c := range stats.TopContributors {
			fmt.Fprintf(tw, "%s\t%d\t%d\n", c.Address, c.XP, c.Level)
		}
		return tw.Flush()
	})
}

var exportCmd = &cobra.Command{
	Use:   "export users|quests|campaigns|ecosystem",
	Short: "Export statistics as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	kind, ok := domain.ParseExportKind(args[0])
	if !ok {
		return fmt.Errorf("unknown export %q (want users, quests, campaigns or ecosystem)", args[0])
	}
	output, _ := cmd.Flags().GetString("output")

	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		data, err := d.Profile.Export(kind)
		if err != nil {
			return err
		}
		if output == "" {
			_, err = cmd.OutOrStdout().Write(append(data, '\n'))
			return err
		}
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", kind, output)
		return nil
	})
}

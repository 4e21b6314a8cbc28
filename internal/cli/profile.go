package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/starkpass/starkpass/internal/daemon"
	"github.com/starkpass/starkpass/internal/domain"
)

// ─── Profile Commands ───────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(questsCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(campaignsCmd)
	rootCmd.AddCommand(claimCmd)
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show XP, level, badges and credentials of the connected wallet",
	Args:  cobra.NoArgs,
	RunE:  runProfile,
}

func runProfile(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		if !d.Sessions.Session().IsConnected() {
			return domain.ErrNotConnected
		}
		state := d.Profile.State()
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), state)
		}
		printProfile(cmd.OutOrStdout(), state)
		return nil
	})
}

func printProfile(w io.Writer, s domain.ProfileState) {
	fmt.Fprintf(w, "Address:  %s\n", s.Address)
	fmt.Fprintf(w, "Level:    %d (%d XP, %.0f%%, %d to next)\n", s.Level, s.XP, s.Progress*100, s.XPToNext)
	fmt.Fprintf(w, "Quests:   %d completed\n", len(s.CompletedQuestIDs))

	fmt.Fprintf(w, "\nBadges (%d)\n", len(s.Badges))
	for _, b := range s.Badges {
		fmt.Fprintf(w, "  %-16s %s\n", b.ID, b.Name)
	}
	fmt.Fprintf(w, "\nCredentials (%d)\n", len(s.Credentials))
	for _, c := range s.Credentials {
		fmt.Fprintf(w, "  %-16s %s\n", c.ID, c.Name)
	}
	if len(s.ClaimableCredentials) > 0 {
		fmt.Fprintf(w, "\nClaimable (%d)\n", len(s.ClaimableCredentials))
		for _, c := range s.ClaimableCredentials {
			fmt.Fprintf(w, "  %-16s %s\n", c.ID, c.Name)
		}
	}
}

var questsCmd = &cobra.Command{
	Use:   "quests",
	Short: "List quests and whether they are completed",
	Args:  cobra.NoArgs,
	RunE:  runQuests,
}

func runQuests(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		quests := d.Profile.Quests()
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), quests)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tDIFFICULTY\tXP\tDONE")
		for _, q := range quests {
			done := ""
			if q.Completed {
				done = "yes"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", q.ID, q.Title, q.Difficulty, q.XPReward, done)
		}
		return tw.Flush()
	})
}

var completeCmd = &cobra.Command{
	Use:   "complete QUEST_ID",
	Short: "Complete a quest and mint its badge",
	Args:  cobra.ExactArgs(1),
	RunE:  runComplete,
}

func runComplete(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		receipt, err := d.Profile.CompleteQuest(ctx, args[0])
		return printMint(cmd.OutOrStdout(), d, "Quest "+args[0]+" completed", receipt, err)
	})
}

var campaignsCmd = &cobra.Command{
	Use:   "campaigns",
	Short: "List credential campaigns",
	Args:  cobra.NoArgs,
	RunE:  runCampaigns,
}

func runCampaigns(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		campaigns, err := d.Profile.Campaigns()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), campaigns)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tCREDENTIAL\tCLAIMS\tACTIVE\tELIGIBLE")
		for _, c := range campaigns {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%v\t%v\n",
				c.ID, c.Title, c.CredentialID, c.TotalClaims, c.MaxClaims, c.Active, c.Eligible)
		}
		return tw.Flush()
	})
}

var claimCmd = &cobra.Command{
	Use:   "claim CREDENTIAL_ID",
	Short: "Claim a credential offered by an active campaign",
	Args:  cobra.ExactArgs(1),
	RunE:  runClaim,
}

func runClaim(cmd *cobra.Command, args []string) error {
	return withDaemon(cmd, func(ctx context.Context, d *daemon.Daemon) error {
		receipt, err := d.Profile.ClaimCredential(ctx, args[0])
		return printMint(cmd.OutOrStdout(), d, "Credential "+args[0]+" claimed", receipt, err)
	})
}

// printMint reports a mint outcome. A pending mint is not an error for the
// command: the transaction exists and may still confirm.
func printMint(w io.Writer, d *daemon.Daemon, done string, receipt domain.MintReceipt, err error) error {
	pending := errors.Is(err, domain.ErrMintPending)
	if err != nil && !pending {
		return err
	}
	if jsonOutput {
		out := map[string]interface{}{"receipt": receipt, "pending": pending}
		if !pending {
			out["profile"] = d.Profile.State()
		}
		return printJSON(w, out)
	}
	if pending {
		fmt.Fprintln(w, domain.UserMessage(err))
		fmt.Fprintf(w, "Transaction: %s\n", receipt.TransactionRef)
		return nil
	}
	state := d.Profile.State()
	fmt.Fprintln(w, done)
	fmt.Fprintf(w, "Token:       %s (%s)\n", receipt.TokenID, receipt.Contract)
	fmt.Fprintf(w, "Transaction: %s\n", receipt.TransactionRef)
	fmt.Fprintf(w, "Level %d, %d XP\n", state.Level, state.XP)
	return nil
}

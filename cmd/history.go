package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-aa/core/backup"
	"github.com/AvaProtocol/ap-aa/core/config"
)

var (
	historyLimit int
	backupDir    string
	restoreFile  string

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List user operations sent by this account",
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *config.Runtime) error {
			sender, err := rt.Client.Account().GetAddress(cmd.Context())
			if err != nil {
				return err
			}
			total, err := rt.History.CountBySender(sender)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d user operations from %s\n", total, sender.Hex())
			if total == 0 {
				return nil
			}
			records, err := rt.History.ListBySender(sender)
			if err != nil {
				return err
			}
			for i, rec := range records {
				if historyLimit > 0 && i >= historyLimit {
					fmt.Fprintf(out, "... and %d more\n", len(records)-historyLimit)
					break
				}
				line := fmt.Sprintf("%s  %-9s  v%s  %s", time.UnixMilli(rec.CreatedAt).UTC().Format("2006-01-02 15:04:05"), rec.Status, rec.Version, rec.Hash.Hex())
				switch {
				case rec.TransactionHash != nil:
					line += "  tx " + rec.TransactionHash.Hex()
				case rec.ReplacedBy != nil:
					line += "  by " + rec.ReplacedBy.Hex()
				}
				fmt.Fprintln(out, line)
			}
			return nil
		}),
	}

	historyBackupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the history database",
		Long: `Write a full snapshot of the history database to --dir.
Snapshots are stored as <dir>/<yy-mm-dd-hh-mm>/history.backup`,
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *config.Runtime) error {
			path, err := backup.NewService(rt.Config.Logger, rt.HistoryDB(), backupDir).Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot written to %s\n", path)
			return nil
		}),
	}

	historyRestoreCmd = &cobra.Command{
		Use:   "restore",
		Short: "Load a history snapshot into the database",
		RunE: withRuntime(func(cmd *cobra.Command, args []string, rt *config.Runtime) error {
			if err := backup.NewService(rt.Config.Logger, rt.HistoryDB(), backupDir).Restore(cmd.Context(), restoreFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", restoreFile)
			return nil
		}),
	}
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of operations to print, 0 for all")

	historyCmd.AddCommand(historyBackupCmd)
	historyBackupCmd.Flags().StringVar(&backupDir, "dir", "./backup", "Directory to store snapshots")

	historyCmd.AddCommand(historyRestoreCmd)
	historyRestoreCmd.Flags().StringVar(&restoreFile, "file", "", "Snapshot file to restore from (required)")
	historyRestoreCmd.MarkFlagRequired("file")
}

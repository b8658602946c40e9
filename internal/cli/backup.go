package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Run, list, verify and restore backups",
}

var (
	runTier     string
	runUser     string
	listTier    string
	listLimit   int
	restoreID   string
	restorePath string
)

var backupRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Write a backup artifact now",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := buildStack()
		if err != nil {
			return err
		}
		defer st.store.Close()

		record, err := st.backups.Run(cmd.Context(), runTier, runUser)
		if err != nil {
			return err
		}
		fmt.Printf("backup %s: %d records in %s (sha256 %s)\n",
			record.ID, record.RecordCount, record.Path, record.Checksum)
		return nil
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := buildStack()
		if err != nil {
			return err
		}
		defer st.store.Close()

		records, err := st.backups.List(cmd.Context(), listTier, listLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("no backups recorded")
			return nil
		}
		for _, r := range records {
			fmt.Printf("%s  %-9s %-7s %10d bytes  %s\n",
				r.ID, r.Tier, r.Status, r.SizeBytes, r.StartedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var backupVerifyCmd = &cobra.Command{
	Use:   "verify <backup-id>",
	Short: "Check an artifact against its recorded checksum",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := buildStack()
		if err != nil {
			return err
		}
		defer st.store.Close()

		result, err := st.backups.Verify(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !result.Valid {
			if result.Error != "" {
				return fmt.Errorf("backup %s failed verification: %s", args[0], result.Error)
			}
			return fmt.Errorf("backup %s failed verification: expected %s, got %s",
				args[0], result.Expected, result.Actual)
		}
		fmt.Printf("backup %s is valid (%d bytes)\n", args[0], result.SizeBytes)
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Import a snapshot without overwriting existing rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := buildStack()
		if err != nil {
			return err
		}
		defer st.store.Close()

		result, err := st.backups.Restore(cmd.Context(), restoreID, restorePath)
		if err != nil {
			return err
		}
		fmt.Printf("restored %d entries, %d associations, %d sessions from %s\n",
			result.Entries, result.Associations, result.Sessions, result.Path)
		return nil
	},
}

func init() {
	backupRunCmd.Flags().StringVar(&runTier, "tier", "primary", "backup tier: primary, secondary or archive")
	backupRunCmd.Flags().StringVar(&runUser, "user", "", "limit the snapshot to one user's rows")

	backupListCmd.Flags().StringVar(&listTier, "tier", "", "filter by tier")
	backupListCmd.Flags().IntVar(&listLimit, "limit", 20, "maximum rows to show")

	backupRestoreCmd.Flags().StringVar(&restoreID, "id", "", "catalog ID of the backup to restore")
	backupRestoreCmd.Flags().StringVar(&restorePath, "path", "", "artifact path, for artifacts with no catalog row")

	backupCmd.AddCommand(backupRunCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupVerifyCmd)
	backupCmd.AddCommand(backupRestoreCmd)
}

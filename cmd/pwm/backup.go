package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Seal the database and credential into the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "Backup")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return respond(cmd, nil, err, nil)
		}
		passphrase, err := readNewSecret("Backup passphrase: ")
		if err != nil {
			return err
		}

		version, err := a.Backup(cmd.Context(), passphrase)
		return respond(cmd, map[string]int64{"version": version}, err, func() {
			fmt.Printf("Backup %d stored in vault\n", version)
		})
	},
}

var backupStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the vault holds",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "BackupStatus")
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.BackupStatus(cmd.Context())
		return respond(cmd, st, err, func() {
			if !st.Exists() {
				fmt.Println("No complete backup in vault.")
				return
			}
			fmt.Printf("Backup %d, taken %s\n", st.DatabaseVersion,
				time.Unix(st.DatabaseVersion, 0).Format("2006-01-02 15:04:05"))
		})
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace local data with the vault's backup",
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("restore overwrites all local records; pass --yes to confirm")
		}

		a, err := newApp(cmd, "Restore")
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readSecret("Backup passphrase: ")
		if err != nil {
			return err
		}

		version, err := a.Restore(cmd.Context(), passphrase)
		return respond(cmd, map[string]int64{"version": version}, err, func() {
			fmt.Printf("Restored backup %d. Unlock with the master password it was taken under.\n", version)
		})
	},
}

func init() {
	backupCmd.AddCommand(backupStatusCmd)
	rootCmd.AddCommand(backupCmd)
	restoreCmd.Flags().Bool("yes", false, "Confirm overwrite")
	rootCmd.AddCommand(restoreCmd)
}

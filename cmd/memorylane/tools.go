package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/memorylane/memorylane/internal/config"
	"github.com/memorylane/memorylane/internal/logger"
	"github.com/memorylane/memorylane/internal/profile"
	"github.com/memorylane/memorylane/internal/provider/gphotos"
	"github.com/memorylane/memorylane/internal/provider/imessage"
)

func loadZone(cfg *config.Config) (*time.Location, error) {
	if cfg.TimeZone == "" || cfg.TimeZone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(cfg.TimeZone)
}

func newGPhotosProvider() (*gphotos.Provider, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	zone, err := loadZone(cfg)
	if err != nil {
		return nil, err
	}
	return gphotos.New(cfg.GPhotosDir, cfg.Owner, zone, logger.New("memorylane")), nil
}

func newGPhotosCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gphotos",
		Short: "Manage the Google Photos picker cache",
	}

	var codeFlag string
	authCmd := &cobra.Command{
		Use:   "auth",
		Short: "Print the consent URL, or exchange an authorization code",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newGPhotosProvider()
			if err != nil {
				return err
			}
			if codeFlag != "" {
				if err := p.Authorize(cmd.Context(), codeFlag); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Token saved.")
				return nil
			}
			url, err := p.AuthURL()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Open this URL, approve access, then re-run with --code:")
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
	authCmd.Flags().StringVar(&codeFlag, "code", "", "Authorization code from the consent redirect")
	cmd.AddCommand(authCmd)

	var (
		newSession bool
		pickerURL  string
	)
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Download the media picked in the current picker session",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newGPhotosProvider()
			if err != nil {
				return err
			}
			return p.Sync(cmd.Context(), pickerURL, newSession)
		},
	}
	syncCmd.Flags().BoolVar(&newSession, "new-session", false, "Abandon the cached session and open a new one")
	syncCmd.Flags().StringVar(&pickerURL, "picker-url", gphotos.DefaultPickerBaseURL, "Picker API base URL")
	cmd.AddCommand(syncCmd)

	return cmd
}

func newIMessageScriptCmd() *cobra.Command {
	var backupRoot string
	cmd := &cobra.Command{
		Use:   "imessage-script",
		Short: "Generate the shell script that copies iMessage attachments out of a device backup",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			if backupRoot == "" {
				backupRoot = cfg.IMessageBackupRoot
			}
			if backupRoot == "" {
				return fmt.Errorf("--backup-root or MEMORYLANE_IMESSAGE_BACKUP_ROOT is required")
			}

			log := logger.New("memorylane")
			profiles := profile.NewResolver(cfg.ProfilePath, log)
			p := imessage.New(cfg.IMessageDir, cfg.Owner, profiles, log)
			if err := p.WriteAttachmentScript(cmd.Context(), backupRoot); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s under %s\n", imessage.ScriptName, cfg.IMessageDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&backupRoot, "backup-root", "", "Device backup folder name under MobileSync/Backup")
	return cmd
}

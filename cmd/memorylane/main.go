package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/memorylane/memorylane/timelineservice"
)

var rootCmd = &cobra.Command{
	Use:   "memorylane",
	Short: "Personal timeline aggregator over exported message and activity archives",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Missing .env is fine; env vars may be set directly.
		_ = godotenv.Load()
	},
}

func main() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the timeline HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return timelineservice.Run()
		},
	}
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newShowCmd())
	rootCmd.AddCommand(newGPhotosCmd())
	rootCmd.AddCommand(newIMessageScriptCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

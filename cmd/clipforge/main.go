package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "clipforge",
		Short: "ClipForge - automated short-video production pipeline",
		Long: `ClipForge turns raw text content into published videos. It drives
each project through script generation, asset generation, rendering,
thumbnail generation and upload, with checkpointed resume, retry with
backoff, quota budgets and live progress streaming.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	// optional .env for API keys and OAuth client credentials
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

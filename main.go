package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "facerec",
	Short: "Face registration and recognition service",
	Long: `facerec stores face descriptors of registered people and identifies
the closest registered face in uploaded images.

Without a subcommand it runs the HTTP server.`,
	SilenceUsage: true,
	RunE:         runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file (default config.yaml if present)")
}

func initConfig() {
	// .env file is optional
	_ = godotenv.Load()
	if configPath == "" {
		configPath = os.Getenv("FACEREC_CONFIG")
	}
}

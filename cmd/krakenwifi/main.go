package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ZerkerEOD/krakenwifi/internal/config"
	"github.com/ZerkerEOD/krakenwifi/pkg/console"
	kdebug "github.com/ZerkerEOD/krakenwifi/pkg/debug"
)

var (
	cfg *config.Config

	flagEnvFile string
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", ".env", "environment file to load before reading configuration")
	rootCmd.PersistentPreRunE = initConfig

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		console.Error("%v", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "krakenwifi",
	Short:         "Runs and supervises hashcat attacks against captured WiFi handshakes",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("krakenwifi: version info not available")
			return
		}
		fmt.Printf("krakenwifi: %s\n", info.Main.Version)
		fmt.Printf("go:         %s\n", info.GoVersion)
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				fmt.Printf("commit:     %s\n", s.Value)
			}
		}
	},
}

// initConfig loads the env file (if present), then reads and validates configuration
func initConfig(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(flagEnvFile); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", flagEnvFile, err)
		}
		kdebug.Debug("No env file at %s, using process environment", flagEnvFile)
	}
	// pick up DEBUG and LOG_LEVEL from the env file
	kdebug.Reinitialize()

	cfg = config.NewConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zapleads/zapleads/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

func init() {
	configValidateCmd.Flags().StringVarP(&configFile, "config", "c", "/etc/zapleads/config.yaml", "Path to configuration file")
	configCmd.AddCommand(configValidateCmd)
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	fmt.Println("Configuration is valid")
	fmt.Printf("  Listen address: %s\n", cfg.Server.ListenAddr)
	fmt.Printf("  Database path: %s\n", cfg.Database.Path)
	fmt.Printf("  Gateway: %s\n", cfg.Gateway.BaseURL)
	fmt.Printf("  Directory: %s\n", cfg.Directory.BaseURL)
	fmt.Printf("  Dispatch interval: %d-%d minutes\n", cfg.Dispatch.DefaultMinIntervalMin, cfg.Dispatch.DefaultMaxIntervalMin)
	fmt.Printf("  Completion mail: %v\n", cfg.Notify.Enabled)

	return nil
}

// Package config implements the config subcommand, which prints the
// effective configuration or writes it back to the config file.
package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/classtrack/classtrack-go/internal/conf"
)

// Command creates the config subcommand.
func Command(settings *conf.Settings) *cobra.Command {
	var write bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or persist the effective configuration",
		Long:  "Print the effective configuration after defaults, config file and flags are merged, or write it back to the config file with --write.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if write {
				if err := conf.SaveSettings(settings); err != nil {
					return fmt.Errorf("error saving configuration: %w", err)
				}
				fmt.Println("Configuration saved.")
				return nil
			}

			data, err := yaml.Marshal(settings)
			if err != nil {
				return fmt.Errorf("error rendering configuration: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}

	cmd.Flags().BoolVar(&write, "write", false, "Write the effective configuration to the config file")

	return cmd
}

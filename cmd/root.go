package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	configcmd "github.com/classtrack/classtrack-go/cmd/config"
	"github.com/classtrack/classtrack-go/cmd/serve"
	"github.com/classtrack/classtrack-go/internal/conf"
)

// RootCommand creates and returns the root command.
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "classtrack",
		Short: "ClassTrack attendance engine CLI",
	}

	setupFlags(rootCmd, settings)

	rootCmd.AddCommand(serve.Command(settings))
	rootCmd.AddCommand(configcmd.Command(settings))

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := cmd.Flags().Parse(args); err != nil {
			return err
		}
		// Command-line arguments take precedence over the config file.
		settings.Debug = viper.GetBool("debug")
		return conf.ValidateSettings(settings)
	}

	return rootCmd
}

// setupFlags configures the global flags for the root command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) {
	cmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")

	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		fmt.Printf("error binding flags: %v\n", err)
	}
}

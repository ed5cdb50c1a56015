package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the gate configuration",
}

var configPrintCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the effective gate configuration",
	Long: `Print the gate configuration after defaults and TOLLGATE_* environment
overrides are applied. Without --config the embedded default gate is
printed, which is a starting point for a custom gate file.`,
	Args: cobra.NoArgs,
	RunE: printConfig,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the gate configuration",
	Long: `Validate the gate configuration and report every problem found.
Exits 4 when the configuration is invalid.`,
	Args: cobra.NoArgs,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configPrintCmd, configValidateCmd)
}

func printConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadGateConfig()
	if err != nil {
		return err
	}
	data, err := config.Marshal(cfg)
	if err != nil {
		return cli.NewCommandError("config print", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func validateConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	name := cfgFile
	if name == "" {
		name = "(embedded)"
	}

	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		var verr config.ValidationError
		if errors.As(err, &verr) {
			for _, fe := range verr.Errors {
				fmt.Fprintf(out, "CONFIG invalid field=%s message=%q\n", fe.Field, fe.Message)
			}
		}
		return cli.NewExitError(cli.ExitUsage, fmt.Errorf("%s: %w", name, err))
	}

	fmt.Fprintf(out, "CONFIG valid path=%s sources=%d metrics=%d rules=%d families=%d\n",
		name, len(cfg.Sources), len(cfg.Metrics), len(cfg.Rules), len(cfg.RuleFamilies()))
	return nil
}

package main

import (
	"fmt"

	"github.com/danmuck/tickerctl/internal/config"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or check a tickerctl config file",
	}

	var output string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(output, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote config template to %s\n", output)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&output, "output", "o", defaultConfigPath, "output path for the config template")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	var input string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(input)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "validated config at %s\n", input)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&input, "input", "i", defaultConfigPath, "config path to validate")

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

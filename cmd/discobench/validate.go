package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"discobench/internal/config"
)

var (
	validateConfigPath string
	validateSchemaPath string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate an experiment configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(validateConfigPath, validateSchemaPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "config OK: mode=%s kind=%s runs=%d params=%v output=%s\n",
			cfg.Mode, cfg.Measurement.Kind, cfg.Measurement.Runs, cfg.Params(), cfg.Output.Path)
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateConfigPath, "config", "", "Path to experiment configuration YAML")
	validateCmd.Flags().StringVar(&validateSchemaPath, "schema", "", "Path to CUE schema file (defaults to the embedded schema)")
	validateCmd.MarkFlagRequired("config")
}

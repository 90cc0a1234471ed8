package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a desired-state file",
	Long:  `Validate a desired-state file without connecting to the database.`,
	Example: `  # Validate a specific file
  rlsync validate --file policies.yaml

  # Validate using config file settings
  rlsync validate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file := cfg.ResolvedFile(validateFile)

		desired, err := loadDesiredState(file)
		if err != nil {
			return err
		}

		if !quiet {
			fmt.Printf("Desired state is valid. Role %q, %d policies:\n", desired.Role, len(desired.Policies))
			for _, d := range desired.Policies {
				fmt.Printf("  - %s -> %s.%s (%s)\n", d.GroupKey, d.Schema, d.Table, d.FilterType)
			}
		}

		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateFile, "file", "", "desired-state file to validate")
}

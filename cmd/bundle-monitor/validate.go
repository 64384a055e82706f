package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check bundle definitions against the bound checkers",
	Long: `Load the bundle catalog and terminology, bind the checkers and fail when
an enabled bundle has an element no checker can evaluate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		reg, _, err := buildRegistries(cfg)
		if err != nil {
			return err
		}
		for _, def := range reg.ListEnabled() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d elements, %d triggers\n", def.ID, def.Version, len(def.Elements), len(def.Triggers))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

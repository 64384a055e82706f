package main

import (
	"github.com/spf13/cobra"

	"github.com/haslamdb/aegis-sub000/pkg/common/database"
	"github.com/haslamdb/aegis-sub000/pkg/common/logger"
	"github.com/haslamdb/aegis-sub000/pkg/episodes"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the episode tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		db, err := database.OpenPostgres(cfg)
		if err != nil {
			return err
		}
		defer database.ClosePostgres(db)

		if err := episodes.NewRepository(db, cfg.DedupTolerance).AutoMigrate(); err != nil {
			return err
		}
		logger.Log.Info("Episode tables migrated")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

package cmd

import (
	"context"

	coreconfig "github.com/AzielCF/az-crm/core/config"
	coreDB "github.com/AzielCF/az-crm/core/database"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the bridge tables and exit",
	Run: func(_ *cobra.Command, _ []string) {
		st, err := openStores(context.Background(), coreconfig.Global)
		if err != nil {
			logrus.Fatalf("[MIGRATION] %v", err)
		}
		_ = coreDB.Close(st.db)
		logrus.Info("[MIGRATION] Tables are up to date")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

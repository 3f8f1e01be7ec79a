package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/carvexyz/carve/business/data/mirror"
	"github.com/carvexyz/carve/business/sys/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema.",
	Run:   migrateRun,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func migrateRun(cmd *cobra.Command, args []string) {
	db, err := openDB()
	if err != nil {
		log.Fatal(err)
	}
	defer database.Close(db)

	if err := mirror.NewStore(zap.NewNop().Sugar(), db).Migrate(context.Background()); err != nil {
		log.Fatal(err)
	}

	fmt.Println("migrations complete")
}

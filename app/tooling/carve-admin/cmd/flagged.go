package cmd

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/carvexyz/carve/business/data/mirror"
	"github.com/carvexyz/carve/business/sys/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var flaggedCmd = &cobra.Command{
	Use:   "flagged",
	Short: "Print the orders that were not carved.",
	Run:   flaggedRun,
}

func init() {
	rootCmd.AddCommand(flaggedCmd)
}

func flaggedRun(cmd *cobra.Command, args []string) {
	db, err := openDB()
	if err != nil {
		log.Fatal(err)
	}
	defer database.Close(db)

	orders, err := mirror.NewStore(zap.NewNop().Sugar(), db).QueryFlagged(context.Background())
	if err != nil {
		log.Fatal(err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(orders); err != nil {
		log.Fatal(err)
	}
}

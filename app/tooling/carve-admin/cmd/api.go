package cmd

import (
	"log"
	"net/http"

	"github.com/carvexyz/carve/business/sys/validate"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Ask the service to reconcile the mirror now.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := callAPI(http.MethodPost, "/v1/admin/sync", nil); err != nil {
			log.Fatal(err)
		}
	},
}

var scratchCmd = &cobra.Command{
	Use:   "scratch <carving id>",
	Short: "Delete a carving from the ledger.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := validate.CheckID(args[0]); err != nil {
			log.Fatal(err)
		}
		if err := callAPI(http.MethodPost, "/v1/admin/carvings/"+args[0]+"/scratch", nil); err != nil {
			log.Fatal(err)
		}
	},
}

var lookupCmd = &cobra.Command{
	Use:   "lookup <email>",
	Short: "Email the carvings of an address to that address.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		body := struct {
			Email string `json:"email"`
		}{
			Email: args[0],
		}
		if err := callAPI(http.MethodPost, "/v1/carvings/lookup", body); err != nil {
			log.Fatal(err)
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(scratchCmd)
	rootCmd.AddCommand(lookupCmd)
}

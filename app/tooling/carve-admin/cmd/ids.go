package cmd

import (
	"fmt"

	"github.com/carvexyz/carve/foundation/carveid"
	"github.com/spf13/cobra"
)

var (
	userSalt    string
	carvingSalt string
	count       uint32
)

var useridCmd = &cobra.Command{
	Use:   "userid <email>",
	Short: "Print the user id derived from an email.",
	Args:  cobra.ExactArgs(1),
	Run:   useridRun,
}

var candidatesCmd = &cobra.Command{
	Use:   "candidates <email>",
	Short: "Print the first carving ids derived from an email.",
	Args:  cobra.ExactArgs(1),
	Run:   candidatesRun,
}

func init() {
	rootCmd.AddCommand(useridCmd)
	rootCmd.AddCommand(candidatesCmd)

	for _, c := range []*cobra.Command{useridCmd, candidatesCmd} {
		c.Flags().StringVar(&userSalt, "user-salt", "dev-user-salt", "Salt for the user id.")
	}
	candidatesCmd.Flags().StringVar(&carvingSalt, "carving-salt", "dev-carving-salt", "Salt for the carving ids.")
	candidatesCmd.Flags().Uint32VarP(&count, "count", "n", 5, "Number of candidates to print.")
}

func useridRun(cmd *cobra.Command, args []string) {
	fmt.Println(carveid.UserID(args[0], userSalt).Hex())
}

func candidatesRun(cmd *cobra.Command, args []string) {
	userID := carveid.UserID(args[0], userSalt)
	fmt.Println("user:", userID.Hex())

	for i, id := range carveid.Sequence(userID, carvingSalt, count) {
		fmt.Printf("%4d %s\n", i, id.Hex())
	}
}

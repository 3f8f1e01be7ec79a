package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var (
	keyFolder string
	keyHandle string
)

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate an operator key for the ledger.",
	Run:   genkeyRun,
}

func init() {
	rootCmd.AddCommand(genkeyCmd)
	genkeyCmd.Flags().StringVar(&keyFolder, "keys", "zcarve/keys/", "Folder the key is written to.")
	genkeyCmd.Flags().StringVar(&keyHandle, "handle", "operator", "Handle the service resolves the key by.")
}

func genkeyRun(cmd *cobra.Command, args []string) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		log.Fatal(err)
	}

	if err := os.MkdirAll(keyFolder, 0o700); err != nil {
		log.Fatal(err)
	}

	path := filepath.Join(keyFolder, keyHandle+".ecdsa")
	if err := crypto.SaveECDSA(path, privateKey); err != nil {
		log.Fatal(err)
	}

	fmt.Println("key:", path)
	fmt.Println("address:", crypto.PubkeyToAddress(privateKey.PublicKey).Hex())
}

/**
 * @description
 * Entry point of the disbursement-service binary. Subcommands run the service,
 * the payment hub simulator and a status polling client.
 *
 * @dependencies
 * - github.com/spf13/cobra: command line structure.
 * - github.com/joho/godotenv: optional .env loading for local runs.
 */

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("level=debug component=bootstrap msg=\"no .env file loaded\" err=%v", err)
	}

	rootCmd := &cobra.Command{
		Use:           "disbursement",
		Short:         "Bulk pension disbursement over an FSPIOP payment hub",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config-dir", ".", "directory holding an optional .env file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mockHubCmd())
	rootCmd.AddCommand(pollCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

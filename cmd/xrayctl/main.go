package main

import (
	"log"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "xrayctl"}

func init() {
	rootCmd.PersistentFlags().String("api-url", "http://localhost:8080", "SQLXray API base URL")
	rootCmd.PersistentFlags().String("output", "table", "Output format (table|json)")

	rootCmd.AddCommand(newScanCmd())
	rootCmd.AddCommand(newWorkloadCmd())
	rootCmd.AddCommand(newTablesCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/apollographql/router-sub000/server"
)

var configPath string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the router version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("router v0.1.0")
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the federation gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Run(configPath)
	},
}

func main() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "gateway.yaml", "path to the gateway configuration file")

	rootCmd := &cobra.Command{Use: "router"}
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

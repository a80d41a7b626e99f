package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	outputFmt string
	clientID  string
	asUser    string
)

var rootCmd = &cobra.Command{
	Use:   "reducerctl",
	Short: "CLI for the reducer server",
	Long: `reducerctl manages content reduction from the command line: inspect
content hierarchies, create selection groups, submit and cancel selection
changes, and drive go-live publications.

The server URL defaults to http://localhost:8080 and can be overridden with
--server or the REDUCER_SERVER environment variable.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Reducer server URL (default: REDUCER_SERVER env or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().StringVar(&clientID, "client", "", "Client ID for client-scoped installations")
	rootCmd.PersistentFlags().StringVar(&asUser, "as-user", "", "User identity sent with requests (default: REDUCER_USER env)")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(contentsCmd)
	rootCmd.AddCommand(groupsCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(publicationsCmd)
}

// resolvedServer returns the effective server URL.
// Priority: --server flag > REDUCER_SERVER env var > localhost default.
func resolvedServer() string {
	if serverURL != "" {
		return serverURL
	}
	if s := os.Getenv("REDUCER_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// resolvedUser returns the identity sent in the X-Remote-User header.
func resolvedUser() string {
	if asUser != "" {
		return asUser
	}
	return os.Getenv("REDUCER_USER")
}

package main

import (
	"github.com/spf13/cobra"
)

var rootFlags struct {
	envFiles []string
	server   string
}

var rootCmd = &cobra.Command{
	Use:   "whereabouts",
	Short: "Keep the current location of catalogued items in step with their movements",
	Long: `whereabouts resolves the current location of each catalogued item from the
movement records related to it, and relates the objects of a group to the
group's movement in bulk.

Configuration is read from the environment and from .env / .env.local.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&rootFlags.envFiles, "env-file", []string{".env", ".env.local"}, "env files to load before reading the environment")
	rootCmd.PersistentFlags().StringVar(&rootFlags.server, "server", "", "run jobs against a whereabouts server at this URL instead of opening the store")
	rootCmd.AddCommand(serveCmd, relateGroupCmd, recomputeCmd)
}

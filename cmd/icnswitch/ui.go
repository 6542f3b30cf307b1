package main

import (
	"github.com/spf13/cobra"

	"github.com/benaskins/icnswitch/internal/tui"
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Interactive on/off switches and preference editor",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client()
		if err := c.Health(cmd.Context()); err != nil {
			return err
		}
		return tui.Run(c)
	},
}

func init() {
	rootCmd.AddCommand(uiCmd)
}

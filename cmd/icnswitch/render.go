package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:   "render <service>",
	Short: "Show the config a start would write, with secrets masked",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := client().Render(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(resp)
		}
		fmt.Print(resp.Rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(renderCmd)
}

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var commandCmd = &cobra.Command{
	Use:   "command <service> <command> [payload]",
	Short: "Send an admin command to a running worker",
	Long: `Forward a named admin command to the worker's control channel and print its reply.
The payload is taken from the argument, or from stdin with "-".

  icnswitch command fwd stats
  icnswitch command fwd set/loglevel debug`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload []byte
		if len(args) == 3 {
			if args[2] == "-" {
				b, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("reading stdin: %w", err)
				}
				payload = b
			} else {
				payload = []byte(args[2])
			}
		}
		out, err := client().Command(cmd.Context(), args[0], args[1], payload)
		if err != nil {
			return err
		}
		os.Stdout.Write(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(commandCmd)
}

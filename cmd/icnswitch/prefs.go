package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var prefsCmd = &cobra.Command{
	Use:     "prefs",
	Aliases: []string{"pref"},
	Short:   "Manage service preferences",
	Long:    "Preferences fill the %%name%% placeholders of a service's config template. Changes take effect at the next start.",
}

var prefsListCmd = &cobra.Command{
	Use:     "list <service>",
	Aliases: []string{"ls"},
	Short:   "List a service's preferences",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := client().Prefs(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(values)
		}
		if len(values) == 0 {
			fmt.Println("No preferences set")
			return nil
		}
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tVALUE")
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%s\n", k, values[k])
		}
		w.Flush()
		return nil
	},
}

var prefsGetCmd = &cobra.Command{
	Use:   "get <service> <key>",
	Short: "Print one preference",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := client().Pref(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(val)
		return nil
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <service> <key> [value]",
	Short: "Set a preference",
	Long:  "Set a preference. If value is omitted it is read from the terminal without echo, or from stdin when piped.",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var value string
		if len(args) == 3 {
			value = args[2]
		} else {
			var err error
			if value, err = readValue(os.Stdin); err != nil {
				return err
			}
		}
		if err := client().SetPref(cmd.Context(), args[0], args[1], value); err != nil {
			return err
		}
		fmt.Printf("%s: %q set\n", args[0], args[1])
		return nil
	},
}

var prefsDeleteCmd = &cobra.Command{
	Use:     "delete <service> <key>",
	Aliases: []string{"rm"},
	Short:   "Remove a preference, falling back to its default",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().DeletePref(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s: %q deleted\n", args[0], args[1])
		return nil
	},
}

// readValue prompts on a terminal and otherwise reads all of f.
func readValue(f *os.File) (string, error) {
	if term.IsTerminal(int(f.Fd())) {
		fmt.Print("Enter value: ")
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", fmt.Errorf("reading value: %w", err)
		}
		fmt.Println()
		return string(b), nil
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimRight(string(b), "\n"), nil
}

func init() {
	prefsCmd.AddCommand(prefsListCmd)
	prefsCmd.AddCommand(prefsGetCmd)
	prefsCmd.AddCommand(prefsSetCmd)
	prefsCmd.AddCommand(prefsDeleteCmd)
	rootCmd.AddCommand(prefsCmd)
}

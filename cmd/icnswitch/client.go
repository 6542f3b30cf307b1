package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/benaskins/icnswitch/internal/api"
	"github.com/benaskins/icnswitch/internal/controller"
	"github.com/benaskins/icnswitch/internal/daemon"
)

func writeStatus(w io.Writer, states []daemon.ServiceState) {
	if len(states) == 0 {
		fmt.Fprintln(w, "No services")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tKIND\tTYPE\tSTATE\tHEALTH\tPID\tUPTIME\tSTARTS")
	for _, s := range states {
		pid := "-"
		if s.PID > 0 {
			pid = fmt.Sprintf("%d", s.PID)
		}
		uptime := "-"
		if s.Uptime != "" {
			uptime = s.Uptime
		}
		health := string(s.Health)
		if health == "" {
			health = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			s.Name, s.Kind, s.Type, s.State, health, pid, uptime, s.Starts)
	}
	tw.Flush()

	for _, s := range states {
		if s.State == controller.StateStopped && s.LastError != "" {
			fmt.Fprintf(w, "\n%s: exit %d: %s\n", s.Name, s.LastExit, s.LastError)
		}
	}
}

var statusCmd = &cobra.Command{
	Use:   "status [service]",
	Short: "Show service status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var states []daemon.ServiceState
		if len(args) == 1 {
			st, err := client().Service(ctx, args[0])
			if err != nil {
				return err
			}
			states = []daemon.ServiceState{st}
		} else {
			var err error
			if states, err = client().Services(ctx); err != nil {
				return err
			}
		}
		if jsonFlag {
			return printJSON(states)
		}
		writeStatus(os.Stdout, states)
		return nil
	},
}

// lifecycle runs op against each named service. Conflicts are reported but
// do not fail the command: asking for the state a service is already in is
// not an error.
func lifecycle(ctx context.Context, names []string, op func(context.Context, string) (daemon.ServiceState, error)) error {
	var failed int
	for _, name := range names {
		st, err := op(ctx, name)
		switch {
		case api.IsConflict(err):
			var apiErr *api.Error
			errors.As(err, &apiErr)
			fmt.Printf("%s: %s\n", name, apiErr.Message)
		case err != nil:
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			failed++
		default:
			fmt.Printf("%s: %s\n", name, st.State)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d services failed", failed, len(names))
	}
	return nil
}

func allServices(ctx context.Context) ([]string, error) {
	states, err := client().Services(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(states))
	for _, s := range states {
		names = append(names, s.Name)
	}
	return names, nil
}

var upCmd = &cobra.Command{
	Use:     "up <service...>",
	Aliases: []string{"start", "on"},
	Short:   "Switch services on",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return lifecycle(cmd.Context(), args, client().Start)
	},
}

var downCmd = &cobra.Command{
	Use:     "down [service...]",
	Aliases: []string{"stop", "off"},
	Short:   "Switch services off",
	Long:    "Stop the named services, or every service when none is named.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			names, err := allServices(cmd.Context())
			if err != nil {
				return err
			}
			args = names
		}
		return lifecycle(cmd.Context(), args, client().Stop)
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <service>",
	Short: "Restart a service with freshly rendered config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return lifecycle(cmd.Context(), args, client().Restart)
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload service specs",
	Long:  "Re-read spec files and reconcile: start new services, stop removed ones, restart changed ones.",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := client().Reload(cmd.Context())
		if err != nil {
			return err
		}
		if jsonFlag {
			return printJSON(result)
		}
		if len(result.Added) > 0 {
			fmt.Printf("Added: %s\n", strings.Join(result.Added, ", "))
		}
		if len(result.Removed) > 0 {
			fmt.Printf("Removed: %s\n", strings.Join(result.Removed, ", "))
		}
		if len(result.Restarted) > 0 {
			fmt.Printf("Restarted: %s\n", strings.Join(result.Restarted, ", "))
		}
		if len(result.Added)+len(result.Removed)+len(result.Restarted) == 0 {
			fmt.Println("No changes")
		}
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs <service>",
	Short: "Show recent log output for a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("lines")
		lines, err := client().Logs(cmd.Context(), args[0], n)
		if err != nil {
			return err
		}
		for _, line := range lines {
			fmt.Println(line)
		}
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow service state changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return client().Events(ctx, func(ev controller.StateChanged) {
			if jsonFlag {
				printJSON(ev)
				return
			}
			fmt.Println(formatEvent(ev))
		})
	},
}

func formatEvent(ev controller.StateChanged) string {
	line := fmt.Sprintf("%s %s %s -> %s", ev.At.Format("15:04:05"), ev.Service, ev.From, ev.To)
	if ev.Crashed {
		line += " (crashed)"
	}
	if ev.Detached {
		line += " (detached)"
	}
	if ev.Error != "" {
		line += ": " + ev.Error
	}
	return line
}

func init() {
	logsCmd.Flags().IntP("lines", "n", 50, "number of lines to show")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(eventsCmd)
}

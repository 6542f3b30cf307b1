package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/benaskins/icnswitch/internal/api"
	"github.com/benaskins/icnswitch/internal/config"
)

var rootCmd = &cobra.Command{
	Use:          "icnswitch",
	Short:        "On/off control for ICN forwarder, HTTP server and downloader workers",
	SilenceUsage: true,
}

var (
	socketFlag string
	jsonFlag   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "daemon socket (default ~/.icnswitch/icnswitch.sock)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "print machine-readable JSON")
}

func socketPath() string {
	if socketFlag != "" {
		return socketFlag
	}
	return config.SocketPath()
}

func client() *api.Client {
	return api.NewClient(socketPath())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

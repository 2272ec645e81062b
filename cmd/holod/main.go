// holod is the holocene daemon: it hosts the plugin runtime, the event bus,
// the archiving pipeline and the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/endarthur/holocene-sub000/internal/config"
	"github.com/endarthur/holocene-sub000/internal/daemon"
)

var version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "holod",
		Short:        "holocene daemon",
		Long:         "holod runs the holocene personal knowledge daemon: link archiving,\nlink health checking, the plugin runtime and the HTTP API.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return daemon.New(cfg).Run(context.Background())
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "~/.holocene/holod.yaml", "config file path")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the holod version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("holod %s\n", version)
		},
	})

	return root
}

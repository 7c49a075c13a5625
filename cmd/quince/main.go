package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "quince",
		Short:         "A minimal QUIC client and server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newClientCommand(), newServerCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "quince:", err)
		os.Exit(1)
	}
}

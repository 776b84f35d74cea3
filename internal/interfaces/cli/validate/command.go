// Package validate implements "flowbus validate".
package validate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/touchon/flowbus/internal/infrastructure/flowfile"
)

func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <flow-file>",
		Short: "Check a flow definition file",
		Long:  `Parse and validate a flow definition without connecting to any server.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := flowfile.Load(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d servers, %d nodes\n", args[0], len(def.Servers), len(def.Nodes))
			for _, n := range def.Nodes {
				if n.Server == "" || n.Type == flowfile.TypeCopy {
					continue
				}
				if _, ok := def.ServerByID(n.Server); !ok {
					fmt.Fprintf(out, "warning: node %q references undefined server %q and will run without one\n", n.ID, n.Server)
				}
			}
			return nil
		},
	}
}

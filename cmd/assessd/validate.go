package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/assessd/internal/contract"
	"github.com/fyrsmithlabs/assessd/internal/process"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <definition>",
		Short: "Check a process definition without running it",
		Long: `Load a process definition, register its contracts and report every
problem found: unknown contracts, duplicate ids, bindings to tasks that have
not run, malformed gates and breakpoints.

Examples:
  assessd validate site-audit.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := contract.NewRegistry()
			def, err := process.Load(args[0], reg)
			if err != nil {
				return err
			}

			tasks, gates, bps := 0, 0, 0
			for _, st := range def.Phases {
				tasks += len(st.Tasks)
				gates += len(st.Gates)
				bps += len(st.Breakpoints)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d contracts, %d phases, %d tasks, %d gates, %d breakpoints)\n",
				def.Name, len(reg.Kinds()), len(def.Phases), tasks, gates, bps)
			return nil
		},
	}
}

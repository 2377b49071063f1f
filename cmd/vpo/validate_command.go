package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"vpo/internal/policy"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <policy.yaml>",
		Short: "Validate a policy document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := policy.Load(args[0])
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(schema.Phases))
			for i := range schema.Phases {
				phase := &schema.Phases[i]
				ops := phase.Operations()
				names := make([]string, 0, len(ops))
				for _, op := range ops {
					names = append(names, string(op))
				}
				rows = append(rows, []string{
					phase.Name,
					strings.Join(names, ", "),
					string(phase.EffectiveOnError(schema.Config.OnError)),
				})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Policy valid (schema version %d)\n", schema.SchemaVersion)
			for _, warning := range schema.MetadataWarnings(policy.BuiltinProviders()) {
				fmt.Fprintf(out, "warning: %s\n", warning)
			}
			fmt.Fprintln(out, renderTable([]string{"Phase", "Operations", "On Error"}, rows))
			return nil
		},
	}
}

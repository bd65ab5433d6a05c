package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/cloner/internal/cli/ui"
	"github.com/conduit-lang/cloner/internal/orm/schema"
)

func newSchemaCommand(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect the resource schema",
	}
	cmd.AddCommand(newSchemaCheckCommand(g))
	return cmd
}

func newSchemaCheckCommand(g *globals) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the schema file and print what each resource clones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				cfg, err := g.loadConfig()
				if err != nil {
					return err
				}
				file = cfg.SchemaFile
			}

			registry, err := schema.LoadFile(file)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			graph := schema.NewCloneGraph(registry.All())
			table := ui.NewTable(out, g.noColor, "RESOURCE", "RELATIONS", "CLONES", "FILES", "EXEMPT")
			for _, name := range registry.List() {
				res, _ := registry.Get(name)
				table.AddRow(
					name,
					joinOrDash(res.CloneableRelations()),
					joinOrDash(graph.Dependents(name)),
					joinOrDash(res.CloneableFileAttributes()),
					joinOrDash(res.CloneExemptAttributes()),
				)
			}
			table.Render()

			fmt.Fprintln(out)
			fmt.Fprintln(out, ui.Success(fmt.Sprintf("%s: %d resources, no clone cycles", file, registry.Count()), g.noColor))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "schema file (default: schema_file from the config)")
	return cmd
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

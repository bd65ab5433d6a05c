package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/cloner/internal/cli/ui"
	"github.com/conduit-lang/cloner/internal/cloner"
	"github.com/conduit-lang/cloner/internal/orm/datastore"
	"github.com/conduit-lang/cloner/internal/orm/schema"
	"github.com/conduit-lang/cloner/internal/service"
)

func newDuplicateCommand(g *globals) *cobra.Command {
	var (
		req    service.Request
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "duplicate <Resource> <id>",
		Short: "Clone a record and its cloneable relations",
		Long: `Load the record, clone it with every relation its resource declares
cloneable and print the clone.

  cloner duplicate Article 42
  cloner duplicate Article 42 --to archive
  cloner duplicate Article 42 --atomic`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Resource, req.ID = args[0], args[1]

			ctx := commandContext(cmd)
			a, cleanup, err := g.openApp(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			clone, err := a.Duplicator.Duplicate(ctx, req)
			if err != nil {
				switch {
				case errors.Is(err, schema.ErrUnknownResource):
					ui.WriteMessage(cmd.ErrOrStderr(), ui.ResourceNotFound(req.Resource, a.Registry.List(), g.noColor))
				case errors.Is(err, datastore.ErrUnknownDatastore), errors.Is(err, cloner.ErrUnknownDatastore):
					name := req.From
					if req.To != "" && !a.Datastores.Has(req.To) {
						name = req.To
					}
					ui.WriteMessage(cmd.ErrOrStderr(), ui.DatastoreNotFound(name, a.Datastores.Names(), g.noColor))
				}
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"resource":   clone.TypeName(),
					"id":         clone.ID(),
					"datastore":  clone.Datastore(),
					"attributes": clone.Attributes,
				})
			}

			fmt.Fprintln(out, ui.Success(fmt.Sprintf("Duplicated %s %s", req.Resource, req.ID), g.noColor))
			kv := ui.NewKeyValues(out, g.noColor)
			keys := make([]string, 0, len(clone.Attributes))
			for k := range clone.Attributes {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				kv.Add(k, fmt.Sprint(clone.Attributes[k]))
			}
			kv.Render()
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.From, "from", "", "datastore the source is read from (default: default_datastore)")
	flags.StringVar(&req.To, "to", "", "datastore the clone is written to (default: the source's)")
	flags.BoolVar(&req.Atomic, "atomic", false, "run the whole duplication in one transaction")
	flags.BoolVar(&asJSON, "json", false, "print the clone as JSON")

	return cmd
}

// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invowk/guildhost/internal/dag"
	"github.com/invowk/guildhost/internal/modules"
	"github.com/invowk/guildhost/pkg/botmod"
)

func newModulesCommand(app *App) *cobra.Command {
	var showGraph bool

	cmd := &cobra.Command{
		Use:   "modules",
		Short: "List the module catalog in dependency order",
		Long: `List every module compiled into guildhost, dependencies first.

Modules whose dependencies are missing from the catalog are flagged; they
never start in any guild. The protected base module is always enabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := buildCatalog()
			if err != nil {
				return err
			}
			graph, err := dag.Build(cat.Descriptors())
			if err != nil {
				return err
			}
			renderModules(app.stdout, graph, cat.Get)
			if showGraph {
				renderEdges(app.stdout, graph)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showGraph, "graph", false, "also print dependency edges")
	return cmd
}

func renderModules(w io.Writer, graph *dag.ModuleGraph, lookup func(botmod.ModuleID) (botmod.Descriptor, bool)) {
	fmt.Fprintln(w, TitleStyle.Render("Modules"))
	for i, id := range graph.Order() {
		desc, _ := lookup(id)
		line := fmt.Sprintf("%2d. %s %s", i+1, CmdStyle.Render(string(id)), SubtitleStyle.Render("v"+desc.Version))
		if id == modules.Protected {
			line += " " + SuccessStyle.Render("(protected)")
		}
		fmt.Fprintln(w, line)
		if desc.Description != "" {
			fmt.Fprintln(w, "    "+desc.Description)
		}
		if deps := graph.Dependencies(id); len(deps) > 0 {
			fmt.Fprintln(w, "    "+SubtitleStyle.Render("depends on: "+joinModuleIDs(deps)))
		}
		if missing := graph.Missing(id); len(missing) > 0 {
			fmt.Fprintln(w, "    "+WarningStyle.Render("missing: "+joinModuleIDs(missing)))
		}
	}
}

func renderEdges(w io.Writer, graph *dag.ModuleGraph) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, TitleStyle.Render("Edges"))
	for _, id := range graph.Order() {
		for _, dependent := range graph.Dependents(id) {
			fmt.Fprintf(w, "  %s -> %s\n", id, dependent)
		}
	}
}

func joinModuleIDs(ids []botmod.ModuleID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}

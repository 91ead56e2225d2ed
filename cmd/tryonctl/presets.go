package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"quel-tryon-server/modules/tryon/composer"
	"quel-tryon-server/modules/tryon/constraints"
	"quel-tryon-server/modules/tryon/presets"
)

var (
	presetsCategory string
	presetsJSON     bool
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "Inspect the built-in scene preset catalog",
}

var presetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scene presets",
	Args:  cobra.NoArgs,
	RunE:  runPresetsList,
}

var presetsLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Check that no preset describes a person",
	Args:  cobra.NoArgs,
	RunE:  runPresetsLint,
}

var presetsMatchCmd = &cobra.Command{
	Use:   "match [scene hint...]",
	Short: "Show which preset a scene hint resolves to",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPresetsMatch,
}

func init() {
	presetsListCmd.Flags().StringVar(&presetsCategory, "category", "", "only list presets in this category")
	presetsListCmd.Flags().BoolVar(&presetsJSON, "json", false, "print JSON instead of a table")
}

func runPresetsList(cmd *cobra.Command, _ []string) error {
	catalog, err := presets.Default()
	if err != nil {
		return err
	}
	list := catalog.List()
	if presetsCategory != "" {
		list = catalog.ByCategory(presetsCategory)
	}
	out := cmd.OutOrStdout()
	if presetsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tLABEL")
	for _, p := range list {
		marker := ""
		if p.ID == catalog.Fallback().ID {
			marker = " (fallback)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s%s\n", p.ID, p.Category, p.Label, marker)
	}
	return tw.Flush()
}

func runPresetsLint(cmd *cobra.Command, _ []string) error {
	catalog, err := presets.Default()
	if err != nil {
		return err
	}
	violations := presets.Lint(catalog.List())
	for _, v := range violations {
		fmt.Fprintln(cmd.OutOrStdout(), "⚠️ ", v.String())
	}
	if len(violations) > 0 {
		return fmt.Errorf("%d preset violation(s)", len(violations))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ %d presets clean\n", len(catalog.List()))
	return nil
}

func runPresetsMatch(cmd *cobra.Command, args []string) error {
	catalog, err := presets.Default()
	if err != nil {
		return err
	}
	compiler, err := constraints.NewDefaultCompiler()
	if err != nil {
		return err
	}
	sel := composer.New(compiler, catalog, nil).Resolve(cmd.Context(), "", strings.Join(args, " "), nil)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "preset:     %s\n", sel.PresetID())
	fmt.Fprintf(out, "method:     %s\n", sel.Method)
	fmt.Fprintf(out, "confidence: %.2f\n", sel.Confidence)
	for _, w := range sel.Warnings {
		fmt.Fprintf(out, "warning:    %s\n", w)
	}
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/iyulab/logwarden/internal/catalog"
	"github.com/iyulab/logwarden/internal/orchestrator"
)

func newPatternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Validate and list a pattern catalog",
		Long: `patterns loads the catalog (built-in, catalog.path from the config, or
--catalog), validates it and prints its patterns.`,
		Args:         cobra.NoArgs,
		RunE:         runPatterns,
		SilenceUsage: true,
	}
	cmd.Flags().String("catalog", "", "catalog file to validate (YAML or JSON)")
	cmd.Flags().String("format", "table", "output format: table, json, yaml")
	return cmd
}

func runPatterns(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("catalog")
	format, _ := cmd.Flags().GetString("format")

	var (
		cat *catalog.Catalog
		err error
	)
	if path != "" {
		cat, err = catalog.LoadFile(path)
	} else {
		cfg, _, setupErr := setup(cmd)
		if setupErr != nil {
			return setupErr
		}
		cat, err = orchestrator.LoadCatalog(cfg)
	}
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	return printPatterns(cmd.OutOrStdout(), cat, format)
}

func printPatterns(w io.Writer, cat *catalog.Catalog, format string) error {
	defs := make([]catalog.Definition, 0, cat.Len())
	for _, p := range cat.Patterns() {
		defs = append(defs, p.Definition())
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"patterns": defs})
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(map[string]any{"patterns": defs}); err != nil {
			return err
		}
		return enc.Close()
	case "table":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSEVERITY\tCATEGORY\tTHRESHOLD\tWINDOW")
		for _, d := range defs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%dms\n", d.Name, d.Severity, d.Category, d.Threshold, d.TimeWindowMs)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(w, "\n%d patterns, categories: %v\n", cat.Len(), cat.Categories())
		return nil
	default:
		return fmt.Errorf("unsupported format %q (table, json, yaml)", format)
	}
}

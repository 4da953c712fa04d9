package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/engine"
)

var (
	rulesDimension string
	rulesRuleType  string
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List or import catalog rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog rules with their learned detection frequency",
	Example: `  dqrisk rules list --dimension DB
  dqrisk rules list --rule-type null_check -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
		}
		return withEngine(cmd.Context(), func(eng *engine.Engine) error {
			list, err := filterRules(eng.Catalog, rulesDimension, rulesRuleType)
			if err != nil {
				return err
			}
			if format != formatTable {
				return writeStructured(cmd.OutOrStdout(), format, list)
			}
			return printRules(cmd.OutOrStdout(), list)
		})
	},
}

var rulesImportCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Validate a CSV of rules against the catalog",
	Long: `Parse a CSV of rules, check every row against the rule types and the ids
already in the catalog, then print the resulting catalog summary.

The import lasts for this invocation only. Set catalog.import_path in the
configuration to load the file on every start.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
		}
		return withEngine(cmd.Context(), func(eng *engine.Engine) error {
			n, err := eng.ImportFile(args[0])
			if err != nil {
				return err
			}
			summary := eng.Catalog.Summary()
			if format != formatTable {
				return writeStructured(cmd.OutOrStdout(), format, map[string]any{
					"imported": n,
					"summary":  summary,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rules from %s\n\n", n, args[0])
			return printSummary(cmd.OutOrStdout(), summary)
		})
	},
}

func init() {
	rulesListCmd.Flags().StringVarP(&rulesDimension, "dimension", "d", "", "Only list rules of this dimension")
	rulesListCmd.Flags().StringVar(&rulesRuleType, "rule-type", "", "Only list rules of this rule type")
	rulesCmd.AddCommand(rulesListCmd, rulesImportCmd)
	rootCmd.AddCommand(rulesCmd)
}

// withEngine runs fn against a fresh engine and closes it afterwards.
func withEngine(ctx context.Context, fn func(*engine.Engine) error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, eng, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := eng.Close(context.Background()); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(eng)
}

func filterRules(cat *catalog.Catalog, dimension, ruleType string) ([]catalog.Rule, error) {
	var list []catalog.Rule
	if dimension != "" {
		dim, err := catalog.ParseDimension(dimension)
		if err != nil {
			return nil, err
		}
		list = cat.GetByDimension(dim)
	} else {
		list = cat.Rules()
	}

	if ruleType == "" {
		return list, nil
	}
	if _, ok := cat.RuleType(ruleType); !ok {
		return nil, fmt.Errorf("unknown rule type %q", ruleType)
	}
	filtered := make([]catalog.Rule, 0, len(list))
	for _, r := range list {
		if r.RuleType == ruleType {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

func printRules(w io.Writer, list []catalog.Rule) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDIM\tCRIT\tMODE\tTYPE\tROLE\tSCANS\tFREQ")
	for _, r := range list {
		role := r.Role
		if role == "" {
			role = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%.3f\n",
			r.ID, r.Dimension, r.Criticality, r.DetectionMode, r.RuleType, role,
			r.Learned.ScanCount, r.Learned.Frequency)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d rules\n", len(list))
	return nil
}

func printSummary(w io.Writer, s catalog.Summary) error {
	modes := []catalog.DetectionMode{catalog.Auto, catalog.Semi, catalog.Manual}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprint(tw, "DIM")
	for _, m := range modes {
		fmt.Fprintf(tw, "\t%s", m)
	}
	fmt.Fprintln(tw, "\tTOTAL")
	for _, dim := range catalog.Dimensions {
		fmt.Fprint(tw, dim)
		for _, m := range modes {
			fmt.Fprintf(tw, "\t%d", s.Matrix[dim][m])
		}
		fmt.Fprintf(tw, "\t%d\n", s.ByDimension[dim])
	}
	fmt.Fprint(tw, "TOTAL")
	for _, m := range modes {
		fmt.Fprintf(tw, "\t%d", s.ByMode[m])
	}
	fmt.Fprintf(tw, "\t%d\n", s.Total)
	return tw.Flush()
}

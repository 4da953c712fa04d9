package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/weights"
)

var ahpComparisons []string

var weightsCmd = &cobra.Command{
	Use:   "weights",
	Short: "Show usage presets or elicit weights with AHP",
}

var weightsPresetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List the built-in usage weight presets",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
		}
		presets := weights.Presets()
		if format != formatTable {
			return writeStructured(cmd.OutOrStdout(), format, presets)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "USAGE\tw_DB\tw_DP\tw_BR\tw_UP\tRATIONALE")
		for _, p := range presets {
			fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%.2f\t%s\n",
				p.Name, p.Weights.DB, p.Weights.DP, p.Weights.BR, p.Weights.UP, p.Rationale)
		}
		return tw.Flush()
	},
}

var weightsAHPCmd = &cobra.Command{
	Use:   "ahp",
	Short: "Derive weights from pairwise dimension comparisons",
	Long: `Derive a weight vector from pairwise comparisons on Saaty's 1-9 scale.
A/B=s means dimension A is s times as important as B. Missing pairs count
as equally important and reciprocals are filled in.`,
	Example: `  dqrisk weights ahp --compare DB/UP=5 --compare DP/UP=3 --compare BR/UP=1/2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := outputFormat()
		if err != nil {
			return err
		}
		pairs, err := parseComparisons(ahpComparisons)
		if err != nil {
			return err
		}
		result, err := weights.ComputeFromComparisons(pairs)
		if err != nil {
			return err
		}
		if format != formatTable {
			return writeStructured(cmd.OutOrStdout(), format, result)
		}
		return printAHP(cmd.OutOrStdout(), result)
	},
}

func init() {
	weightsAHPCmd.Flags().StringArrayVarP(&ahpComparisons, "compare", "c", nil, "Pairwise comparison A/B=score (repeatable)")
	weightsCmd.AddCommand(weightsPresetsCmd, weightsAHPCmd)
	rootCmd.AddCommand(weightsCmd)
}

// parseComparisons parses A/B=score pairs. The score may be a fraction such as 1/3.
func parseComparisons(values []string) ([]weights.Comparison, error) {
	pairs := make([]weights.Comparison, 0, len(values))
	for _, s := range values {
		dims, score, ok := strings.Cut(s, "=")
		if !ok {
			return nil, fmt.Errorf("invalid comparison %q (want A/B=score)", s)
		}
		left, right, ok := strings.Cut(dims, "/")
		if !ok {
			return nil, fmt.Errorf("invalid comparison %q (want A/B=score)", s)
		}
		a, err := catalog.ParseDimension(left)
		if err != nil {
			return nil, err
		}
		b, err := catalog.ParseDimension(right)
		if err != nil {
			return nil, err
		}
		v, err := parseScore(score)
		if err != nil {
			return nil, fmt.Errorf("invalid comparison %q: %w", s, err)
		}
		pairs = append(pairs, weights.Comparison{A: a, B: b, Score: v})
	}
	return pairs, nil
}

func parseScore(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
		if err != nil {
			return 0, err
		}
		d, err := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if err != nil {
			return 0, err
		}
		if d == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return n / d, nil
	}
	return strconv.ParseFloat(s, 64)
}

func printAHP(w io.Writer, r *weights.AHPResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprint(tw, "\t")
	for _, dim := range catalog.Dimensions {
		fmt.Fprintf(tw, "%s\t", dim)
	}
	fmt.Fprintln(tw, "WEIGHT")
	for i, dim := range catalog.Dimensions {
		fmt.Fprintf(tw, "%s\t", dim)
		for j := range catalog.Dimensions {
			fmt.Fprintf(tw, "%.3f\t", r.Matrix[i][j])
		}
		fmt.Fprintf(tw, "%.4f\n", r.Weights.Get(dim))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nmethod=%s  lambda_max=%.4f  CI=%.4f  CR=%.4f  consistent=%t\n",
		r.Method, r.LambdaMax, r.CI, r.CR, r.Consistent)
	if r.Warning != "" {
		fmt.Fprintf(w, "warning: %s\n", r.Warning)
	}
	return nil
}

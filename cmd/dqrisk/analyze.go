package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/raaihank/dq-sentinel/internal/analysis"
	"github.com/raaihank/dq-sentinel/internal/catalog"
	"github.com/raaihank/dq-sentinel/internal/engine"
	"github.com/raaihank/dq-sentinel/internal/estimator"
	"github.com/raaihank/dq-sentinel/internal/lineage"
	"github.com/raaihank/dq-sentinel/internal/scanner"
)

type analyzeOptions struct {
	name            string
	budget          string
	usages          []string
	dimensions      []string
	confidence      map[string]string
	autoConfidence  bool
	roles           []string
	simulateLineage bool
	pipeline        string
	contract        bool
}

var analyzeOpts analyzeOptions

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Scan a dataset and score its risk per usage",
	Long: `Scan a CSV, Parquet or JSON-lines dataset, estimate the error probability of
each quality dimension and score the risk for every requested usage.

Examples:
  dqrisk analyze employees.csv --usage regulatory_payroll --budget quick
  dqrisk analyze payroll.parquet --simulate-lineage --pipeline stages.yaml -o json
  dqrisk analyze hr.csv --role email=mail,alt_mail --confidence UP=LOW`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeOpts.name, "name", "", "Entity name used in impacts and contracts (default: file name)")
	f.StringVarP(&analyzeOpts.budget, "budget", "b", "", "Scan budget: QUICK, STANDARD or DEEP (default from config)")
	f.StringSliceVarP(&analyzeOpts.usages, "usage", "u", nil, "Usage presets to score (default: all presets)")
	f.StringSliceVar(&analyzeOpts.dimensions, "dimension", nil, "Dimensions to scan (default: DB, DP, BR, UP)")
	f.StringToStringVar(&analyzeOpts.confidence, "confidence", nil, "Confidence tier per dimension, e.g. DB=HIGH,UP=LOW")
	f.BoolVar(&analyzeOpts.autoConfidence, "auto-confidence", false, "Pick confidence tiers from the observed error rates")
	f.StringArrayVar(&analyzeOpts.roles, "role", nil, "Bind a rule role to columns, e.g. email=mail,alt_mail (repeatable)")
	f.BoolVar(&analyzeOpts.simulateLineage, "simulate-lineage", false, "Propagate the risk through a pipeline")
	f.StringVar(&analyzeOpts.pipeline, "pipeline", "", "YAML pipeline definition (implies --simulate-lineage)")
	f.BoolVar(&analyzeOpts.contract, "contract", false, "Include the generated quality contract in the report")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	req, err := analyzeOpts.request(cmd, args[0])
	if err != nil {
		return err
	}

	report, err := analyzeFile(cmd.Context(), args[0], req)
	if err != nil {
		return err
	}

	if format != formatTable {
		return writeStructured(cmd.OutOrStdout(), format, report)
	}
	return printReport(cmd.OutOrStdout(), report)
}

// analyzeFile runs one analysis and persists the learned statistics.
func analyzeFile(ctx context.Context, path string, req analysis.Request) (*analysis.Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var report *analysis.Report
	err := withEngine(ctx, func(eng *engine.Engine) error {
		ds, _, err := eng.Loader.LoadFile(ctx, path)
		if err != nil {
			return err
		}
		report, err = eng.Analyzer.Analyze(ctx, ds, req)
		return err
	})
	return report, err
}

func (o analyzeOptions) request(cmd *cobra.Command, path string) (analysis.Request, error) {
	req := analysis.Request{
		Name:            o.name,
		Budget:          scanner.Budget(o.budget),
		Usages:          o.usages,
		SimulateLineage: o.simulateLineage || o.pipeline != "",
		Contract:        o.contract,
	}
	if req.Name == "" {
		req.Name = entityName(path)
	}

	for _, d := range o.dimensions {
		req.Dimensions = append(req.Dimensions, catalog.Dimension(d))
	}

	if len(o.confidence) > 0 {
		req.Confidence = make(map[catalog.Dimension]estimator.Tier, len(o.confidence))
		for key, value := range o.confidence {
			dim, err := catalog.ParseDimension(key)
			if err != nil {
				return req, err
			}
			tier, err := estimator.ParseTier(value)
			if err != nil {
				return req, err
			}
			req.Confidence[dim] = tier
		}
	}
	if cmd.Flags().Changed("auto-confidence") {
		auto := o.autoConfidence
		req.AutoConfidence = &auto
	}

	roles, err := parseRoles(o.roles)
	if err != nil {
		return req, err
	}
	req.Columns = scanner.ColumnConfig{Roles: roles}

	if o.pipeline != "" {
		stages, err := lineage.LoadStages(o.pipeline)
		if err != nil {
			return req, err
		}
		req.Pipeline = stages
	}
	return req, nil
}

// parseRoles turns role=col1,col2 bindings into a role map.
func parseRoles(bindings []string) (map[string][]string, error) {
	roles := make(map[string][]string, len(bindings))
	for _, b := range bindings {
		role, cols, ok := strings.Cut(b, "=")
		role = strings.TrimSpace(role)
		if !ok || role == "" || strings.TrimSpace(cols) == "" {
			return nil, fmt.Errorf("invalid role binding %q (want role=col1,col2)", b)
		}
		for _, c := range strings.Split(cols, ",") {
			if c = strings.TrimSpace(c); c != "" {
				roles[role] = append(roles[role], c)
			}
		}
	}
	return roles, nil
}

func entityName(path string) string {
	base := path
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return base
}

func printReport(w io.Writer, r *analysis.Report) error {
	fmt.Fprintf(w, "Dataset: %s  rows=%d  budget=%s  run=%s\n\n", r.Name, r.Rows, r.Budget, r.RunID)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DIMENSION\tSCANNED\tDETECTED\tSKIPPED\tERROR RATE\tE[P]\t95% CI\tTIER")
	for _, dim := range catalog.Dimensions {
		scan, ok := r.Scans[dim]
		if !ok {
			continue
		}
		e := r.Vector[dim]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%.4f\t%.4f\t[%.4f, %.4f]\t%s\n",
			dim, scan.RulesScanned, len(scan.RulesDetected), len(scan.RulesSkipped),
			scan.ErrorRate, e.Expectation, e.CILower, e.CIUpper, e.Tier)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(w)

	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := "USAGE\tSOURCE\tSCORE\tSEVERITY\tRECORDS"
	if r.Simulation != nil {
		header += "\tFINAL\tFINAL SEVERITY\tTREND"
	}
	fmt.Fprintln(tw, header)
	for _, u := range r.Usages {
		line := fmt.Sprintf("%s\t%s\t%.4f\t%s\t%d", u.Usage, u.Source, u.Score, u.Severity, u.Impact.RecordsAffected)
		if u.Lineage != nil {
			line += fmt.Sprintf("\t%.4f\t%s\t%s", u.Lineage.FinalScore, u.Lineage.FinalSeverity, u.Lineage.Delta.Trend)
		}
		fmt.Fprintln(tw, line)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nWorst severity: %s\n", r.Worst)
	for _, u := range r.Usages {
		if u.Severity != r.Worst {
			continue
		}
		for _, action := range u.Impact.RecommendedActions {
			fmt.Fprintf(w, "  - %s\n", action)
		}
		break
	}
	if r.Contract != nil {
		fmt.Fprintf(w, "\nContract %s: %d quality entries (use -o yaml to view)\n", r.Contract.ID, len(r.Contract.Quality))
	}
	return nil
}

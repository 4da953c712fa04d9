package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raaihank/dq-sentinel/internal/analysis"
	"github.com/raaihank/dq-sentinel/internal/contract"
	"github.com/raaihank/dq-sentinel/internal/scanner"
)

var (
	contractFormat string
	contractBudget string
	contractName   string
	contractOut    string
)

var contractCmd = &cobra.Command{
	Use:   "contract <file>",
	Short: "Export the quality section of a data contract",
	Long: `Scan a dataset and export every rule that ran as a quality entry of a
data contract, together with the number of violations observed.`,
	Example: `  dqrisk contract employees.csv --budget deep
  dqrisk contract payroll.parquet --format json --out payroll.contract.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := contract.ParseFormat(contractFormat)
		if err != nil {
			return err
		}
		name := contractName
		if name == "" {
			name = entityName(args[0])
		}
		req := analysis.Request{
			Name:     name,
			Budget:   scanner.Budget(contractBudget),
			Contract: true,
		}

		report, err := analyzeFile(cmd.Context(), args[0], req)
		if err != nil {
			return err
		}
		data, err := report.Contract.Render(format)
		if err != nil {
			return err
		}

		if contractOut == "" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(contractOut, data, 0o644); err != nil {
			return fmt.Errorf("write contract: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d quality entries to %s\n", len(report.Contract.Quality), contractOut)
		return nil
	},
}

func init() {
	f := contractCmd.Flags()
	f.StringVarP(&contractFormat, "format", "f", "yaml", "Contract format (yaml, json)")
	f.StringVarP(&contractBudget, "budget", "b", "", "Scan budget: QUICK, STANDARD or DEEP (default from config)")
	f.StringVar(&contractName, "name", "", "Contract name (default: file name)")
	f.StringVar(&contractOut, "out", "", "Write the contract to this file instead of stdout")
	rootCmd.AddCommand(contractCmd)
}

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Mindburn-Labs/roseglass/pkg/finance"
)

func newPriceCmd(stdout io.Writer) *cobra.Command {
	var (
		model        string
		inputTokens  int64
		outputTokens int64
		markup       string
		pricingFile  string
		jsonOutput   bool
	)
	cmd := &cobra.Command{
		Use:     "price",
		Short:   "Print the cost and charge for a model call",
		GroupID: "ops",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := decimal.NewFromString(markup)
			if err != nil {
				return fmt.Errorf("invalid markup %q: %w", markup, err)
			}
			var table *finance.PricingTable
			if pricingFile != "" {
				if table, err = finance.LoadPricingTable(pricingFile); err != nil {
					return err
				}
			}
			meter, err := finance.NewUsageMeter(table, m)
			if err != nil {
				return err
			}
			usage, err := meter.Meter(model, inputTokens, outputTokens)
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.MarshalIndent(usage, "", "  ")
				if err != nil {
					return fmt.Errorf("marshaling JSON: %w", err)
				}
				_, _ = fmt.Fprintln(stdout, string(data))
				return nil
			}
			printKV(stdout, "Model", usage.Model)
			printKV(stdout, "Tokens", fmt.Sprintf("%d in / %d out", usage.InputTokens, usage.OutputTokens))
			printKV(stdout, "Cost", fmt.Sprintf("%s (%s)", finance.FormatUSD(usage.Cost), usage.Cost))
			printKV(stdout, "Charge", fmt.Sprintf("%s (%s)", finance.FormatUSD(usage.Charge), finance.FormatCredits(usage.Charge)))
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", finance.ModelSonnet, "model id")
	cmd.Flags().Int64Var(&inputTokens, "input", 0, "input tokens")
	cmd.Flags().Int64Var(&outputTokens, "output", 0, "output tokens")
	cmd.Flags().StringVar(&markup, "markup", finance.DefaultMarkup.String(), "charge multiplier")
	cmd.Flags().StringVar(&pricingFile, "pricing", "", "pricing table file (.yaml or .toml)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

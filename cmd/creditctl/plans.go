package main

import (
	"encoding/json"
	"io"
	"text/tabwriter"

	"creditledger/internal/config"
	"creditledger/internal/plans"

	"github.com/spf13/cobra"
)

func newPlansCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:         "plans",
		Short:       "Show the plan and package catalog for the configured variant",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{"offline": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			priceMap, err := plans.ParsePriceMap(cfg.PricePlanMap)
			if err != nil {
				return err
			}
			catalog, err := plans.New(cfg.Variant, priceMap)
			if err != nil {
				return err
			}
			return printCatalog(cmd.OutOrStdout(), cfg.Variant, catalog, c.asJSON)
		},
	}
}

func printCatalog(w io.Writer, variant config.Variant, catalog *plans.Catalog, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"variant":  variant,
			"plans":    catalog.Plans(),
			"packages": catalog.Packages(),
		})
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	printf(tw, "PLAN\tMONTHLY\tROLLOVER\tLIFETIME\n")
	for _, p := range catalog.Plans() {
		printf(tw, "%s\t%d\t%t\t%t\n", p.ID, p.MonthlyCredits, p.RolloverEnabled, p.Lifetime)
	}
	if pkgs := catalog.Packages(); len(pkgs) > 0 {
		printf(tw, "\nPACKAGE\tCREDITS\tPRICE\t\n")
		for _, p := range pkgs {
			printf(tw, "%s\t%d\t%s\t\n", p.ID, p.Credits, p.Price)
		}
	}
	return tw.Flush()
}

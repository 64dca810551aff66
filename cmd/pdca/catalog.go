package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/RayYangTW/pdca/internal/config"
	"github.com/RayYangTW/pdca/internal/pricing"
)

var pricingCmd = &cobra.Command{
	Use:   "pricing",
	Short: "List the per-1K unit rates used for cost estimates",
	Long: `List the pricing table. The built-in table can be extended or replaced
with a YAML file set through pricing.file in the config (PDCA_PRICING_FILE).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		return printPricing(os.Stdout, reg)
	},
}

func printPricing(w io.Writer, reg *pricing.Registry) error {
	yellow := color.New(color.FgYellow).SprintFunc()
	fmt.Fprintf(w, "%s\n", yellow(fmt.Sprintf("Rates per 1K units (%s):", reg.Currency())))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  MODEL\tINPUT\tOUTPUT")
	for _, model := range reg.Models() {
		rate, err := reg.Lookup(model)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "  %s\t%.6f\t%.6f\n", model, rate.InputPer1K, rate.OutputPer1K)
	}
	return tw.Flush()
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List the built-in policy profiles",
	Run: func(cmd *cobra.Command, args []string) {
		printProfiles(os.Stdout, cfg.Profile)
	},
}

func printProfiles(w io.Writer, active string) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  PROFILE\tROUNDS\tTARGET\tMARGINAL\tUNITS\tHARD STOP\tCONFIRM")
	for _, name := range config.ProfileNames() {
		p, _ := config.LookupProfile(name)

		label := name
		if name == active {
			label = cyan("*" + name)
		}
		rounds := "∞"
		if p.Loop.MaxIterations > 0 {
			rounds = fmt.Sprintf("%d", p.Loop.MaxIterations)
		}
		units := "∞"
		if p.Loop.UnitBudget > 0 {
			units = formatUnits(p.Loop.UnitBudget)
		}
		hardStop := "off"
		if p.Cost.HardStopAtUnits > 0 {
			hardStop = formatUnits(p.Cost.HardStopAtUnits)
		}
		confirm := "no"
		if p.Loop.RequireConfirmation {
			confirm = "yes"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%.0f%%\t%.0f%%\t%s\t%s\t%s\n",
			label, rounds, p.Loop.QualityTarget*100, p.Loop.MarginalThreshold*100, units, hardStop, confirm)
	}
	_ = tw.Flush()

	fmt.Fprintln(w)
	for _, name := range config.ProfileNames() {
		p, _ := config.LookupProfile(name)
		fmt.Fprintf(w, "  %-10s %s\n", name, p.Description)
	}
}

func init() {
	rootCmd.AddCommand(pricingCmd, profilesCmd)
}

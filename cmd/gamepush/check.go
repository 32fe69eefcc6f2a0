package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/obentoo/gamepush/internal/common/output"
	"github.com/obentoo/gamepush/internal/monitor"
	"github.com/spf13/cobra"
)

var (
	// checkDryRun logs notices instead of sending them
	checkDryRun bool
	// checkAll includes products disabled in the push config
	checkAll bool
)

var checkCmd = &cobra.Command{
	Use:   "check [product...]",
	Short: "Check products for new versions now",
	Long: `Run one check cycle per product, announcing any change found.

Without arguments every enabled product is checked. Products may be given by
id or alias.

Examples:
  gamepush check                 Check every enabled product
  gamepush check ys 鸣潮          Check Genshin Impact and Wuthering Waves
  gamepush check --dry-run sr    Check and log the notice without sending`,
	ValidArgsFunction: completeProducts,
	Run:               runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkDryRun, "dry-run", false, "Log notices instead of sending them")
	checkCmd.Flags().BoolVar(&checkAll, "all", false, "Include products disabled in the push config")

	rootCmd.AddCommand(checkCmd)
}

// checkOutcome pairs a cycle result with its error for display.
type checkOutcome struct {
	product monitor.Product
	result  *monitor.CheckResult
	err     error
}

func runCheck(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	a := openApp(ctx, appOptions{dryRun: checkDryRun})
	defer a.close()

	products, err := selectProducts(args, func(p monitor.Product) bool {
		return checkAll || a.push.ProductConfig(p.ID).Enabled
	})
	if err != nil {
		fail("%v", err)
	}

	outcomes := make([]checkOutcome, len(products))
	var wg sync.WaitGroup
	for i, p := range products {
		wg.Add(1)
		go func(i int, p monitor.Product) {
			defer wg.Done()
			res, err := a.engine.CheckVersion(ctx, p.ID, true)
			outcomes[i] = checkOutcome{product: p, result: res, err: err}
		}(i, p)
	}
	wg.Wait()

	displayCheckResults(outcomes)
}

// selectProducts resolves explicit arguments, or every product passing
// keep when none are given.
func selectProducts(args []string, keep func(monitor.Product) bool) ([]monitor.Product, error) {
	if len(args) == 0 {
		var out []monitor.Product
		for _, p := range monitor.Products() {
			if keep(p) {
				out = append(out, p)
			}
		}
		return out, nil
	}

	seen := make(map[monitor.ProductID]bool)
	var out []monitor.Product
	for _, arg := range args {
		p, err := resolveProduct(arg)
		if err != nil {
			return nil, err
		}
		if !seen[p.ID] {
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	return out, nil
}

// displayCheckResults formats and displays check results
func displayCheckResults(outcomes []checkOutcome) {
	if len(outcomes) == 0 {
		output.PrintInfo("No products to check")
		return
	}

	var changes, failures int

	fmt.Println()
	output.Header.Println("Version Check Results")
	fmt.Println()

	for _, o := range outcomes {
		name := output.FormatProduct(o.product.Name, string(o.product.ID))
		switch {
		case o.err != nil:
			failures++
			fmt.Printf("  %s %s: %v\n", output.FormatEvent("failed"), name, o.err)
			continue
		case o.result.Skipped:
			output.Dim.Printf("  %s: another check is running\n", o.product.Name)
			continue
		case !o.result.Changed():
			output.Dim.Printf("  %s: main %s, pre %s (no change)\n", o.product.Name, orDash(o.result.Snapshot.Main), orDash(o.result.Snapshot.Pre))
			continue
		}

		for _, out := range o.result.Outcomes {
			changes++
			fmt.Printf("  %s %s: %s\n", output.FormatEvent(string(out.Event.Type)), name, out.Event.Describe())
			for _, line := range outcomeDetails(out) {
				output.Dim.Printf("      %s\n", line)
			}
		}
	}

	fmt.Println()
	if changes > 0 {
		output.Info.Printf("Found %d change(s)\n", changes)
	} else {
		output.Success.Println("All products are up to date")
	}
	if failures > 0 {
		output.Warning.Printf("%d product(s) failed\n", failures)
	}
}

func outcomeDetails(out monitor.Outcome) []string {
	if out.Suppressed {
		return []string{"first observation, recorded without notice"}
	}

	var lines []string
	if total := out.Event.Size.FormattedTotal(); total != "" {
		lines = append(lines, "total "+total)
	}
	if audio := out.Event.Size.FormattedAudio(); audio != "" {
		lines = append(lines, "audio "+audio)
	}
	if inc := out.Event.Size.FormattedIncremental(); inc != "" {
		lines = append(lines, "incremental "+inc)
	}
	if out.SizeErr != nil {
		lines = append(lines, "size unavailable: "+out.SizeErr.Error())
	}
	switch {
	case out.Report == nil:
		lines = append(lines, "no push targets")
	default:
		lines = append(lines, fmt.Sprintf("sent as %s to %d target(s)", out.Report.Format, out.Report.Delivered))
		for t, err := range out.Report.Failed {
			lines = append(lines, fmt.Sprintf("failed %s: %v", t, err))
		}
	}
	return lines
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

package main

import (
	"context"
	"fmt"

	"github.com/obentoo/gamepush/internal/common/output"
	"github.com/obentoo/gamepush/internal/monitor"
	"github.com/spf13/cobra"
)

// linksPre selects the pre-download channel
var linksPre bool

var versionsCmd = &cobra.Command{
	Use:   "versions [product...]",
	Short: "Show the stored versions of products",
	Long: `Show the last release and pre-download versions gamepush has recorded.

Examples:
  gamepush versions              All products
  gamepush versions zzz bh3      Selected products`,
	ValidArgsFunction: completeProducts,
	Run:               runVersions,
}

var linksCmd = &cobra.Command{
	Use:   "links <product>",
	Short: "Show download links of the current client",
	Long: `List the full client, audio and patch packages of a product's current
release or pre-download, with their sizes.

Examples:
  gamepush links sr              Release packages
  gamepush links 绝区零 --pre     Pre-download packages`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeProducts,
	Run:               runLinks,
}

var historyCmd = &cobra.Command{
	Use:   "history <product> [version]",
	Short: "List recorded versions and sizes",
	Long: `List the release and pre-download versions recorded for a product,
newest first. A version argument narrows the listing.

Examples:
  gamepush history ww            Everything recorded for Wuthering Waves
  gamepush history ys 5.1.0      A single version`,
	Args:              cobra.RangeArgs(1, 2),
	ValidArgsFunction: completeProducts,
	Run:               runHistory,
}

func init() {
	linksCmd.Flags().BoolVar(&linksPre, "pre", false, "Show the pre-download instead of the release")

	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(linksCmd)
	rootCmd.AddCommand(historyCmd)
}

func runVersions(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	products, err := selectProducts(args, func(monitor.Product) bool { return true })
	if err != nil {
		fail("%v", err)
	}
	a := openApp(ctx, appOptions{dryRun: true})
	defer a.close()

	fmt.Println()
	for _, p := range products {
		v, err := a.engine.GetCurrentVersions(ctx, p.ID)
		if err != nil {
			fail("reading versions of %s: %v", p.Name, err)
		}
		output.Section(output.FormatProduct(p.Name, string(p.ID)), v.String())
	}
}

func runLinks(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	p, err := resolveProduct(args[0])
	if err != nil {
		fail("%v", err)
	}
	ch := monitor.ChannelMain
	if linksPre {
		ch = monitor.ChannelPre
	}

	a := openApp(ctx, appOptions{dryRun: true})
	defer a.close()

	info, err := a.engine.GetDownloadLinks(ctx, p.ID, ch)
	if err != nil {
		fail("%v", err)
	}
	for _, section := range info.Sections() {
		fmt.Println(section)
		fmt.Println()
	}
}

func runHistory(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	p, err := resolveProduct(args[0])
	if err != nil {
		fail("%v", err)
	}
	var version string
	if len(args) > 1 {
		version = args[1]
	}

	a := openApp(ctx, appOptions{dryRun: true})
	defer a.close()

	mains, pres, err := a.engine.History(ctx, p.ID, version)
	if err != nil {
		fail("reading history: %v", err)
	}
	displayHistory(p, mains, pres)
}

// displayHistory formats and displays history rows
func displayHistory(p monitor.Product, mains []monitor.MainRecord, pres []monitor.PreRecord) {
	if len(mains) == 0 && len(pres) == 0 {
		output.PrintInfo("No history recorded for %s", p.Name)
		return
	}

	fmt.Println()
	output.Header.Printf("%s history\n", p.Name)
	fmt.Println()

	if len(mains) > 0 {
		fmt.Println(output.FormatEvent("main"))
		for _, r := range mains {
			fmt.Printf("  %-12s %-12s %s\n", r.Version, orDash(r.Size), output.Dim.Sprint(r.CreatedAt.Local().Format("2006-01-02 15:04")))
		}
		fmt.Println()
	}
	if len(pres) > 0 {
		fmt.Println(output.FormatEvent("pre"))
		for _, r := range pres {
			fmt.Printf("  %-12s from %-10s %-12s %s\n", r.Version, orDash(r.OldVersion), orDash(r.Size), output.Dim.Sprint(r.CreatedAt.Local().Format("2006-01-02 15:04")))
		}
		fmt.Println()
	}
}

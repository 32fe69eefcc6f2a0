package main

import (
	"fmt"

	"github.com/obentoo/gamepush/internal/common/config"
	"github.com/obentoo/gamepush/internal/common/output"
	"github.com/obentoo/gamepush/internal/monitor"
	"github.com/obentoo/gamepush/internal/pushconfig"
	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Manage which groups receive notices",
	Long: `Add, remove and list push targets. A target is written as bot:group, for
example 10001:123456.`,
}

var pushAddCmd = &cobra.Command{
	Use:               "add <product> <bot:group>...",
	Short:             "Subscribe groups to a product",
	Args:              cobra.MinimumNArgs(2),
	ValidArgsFunction: completeProducts,
	Run:               func(cmd *cobra.Command, args []string) { runPushEdit(args, true) },
}

var pushRemoveCmd = &cobra.Command{
	Use:               "remove <product> <bot:group>...",
	Aliases:           []string{"rm"},
	Short:             "Unsubscribe groups from a product",
	Args:              cobra.MinimumNArgs(2),
	ValidArgsFunction: completeProducts,
	Run:               func(cmd *cobra.Command, args []string) { runPushEdit(args, false) },
}

var pushListCmd = &cobra.Command{
	Use:               "list [product...]",
	Aliases:           []string{"ls"},
	Short:             "Show push settings per product",
	ValidArgsFunction: completeProducts,
	Run:               runPushList,
}

func init() {
	pushCmd.AddCommand(pushAddCmd)
	pushCmd.AddCommand(pushRemoveCmd)
	pushCmd.AddCommand(pushListCmd)

	rootCmd.AddCommand(pushCmd)
}

// openPushConfig opens the push config without wiring the rest of the app.
func openPushConfig() *pushconfig.Store {
	settings, err := loadSettings()
	if err != nil {
		fail("loading settings: %v", err)
	}
	store, err := pushconfig.Open(settings.PushConfig)
	if err != nil {
		fail("%v", err)
	}
	return store
}

func runPushEdit(args []string, add bool) {
	p, err := resolveProduct(args[0])
	if err != nil {
		fail("%v", err)
	}
	targets, err := monitor.ParseTargets(args[1:])
	if err != nil {
		fail("%v", err)
	}

	store := openPushConfig()
	for _, t := range targets {
		if add {
			changed, err := store.AddTarget(p.ID, t)
			switch {
			case err != nil:
				fail("saving push config: %v", err)
			case changed:
				output.PrintSuccess("%s: added %s", p.Name, t)
			default:
				output.PrintWarning("%s: %s already subscribed", p.Name, t)
			}
			continue
		}

		changed, err := store.RemoveTarget(p.ID, t)
		switch {
		case err != nil:
			fail("saving push config: %v", err)
		case changed:
			output.PrintSuccess("%s: removed %s", p.Name, t)
		default:
			output.PrintWarning("%s: %s was not subscribed", p.Name, t)
		}
	}
}

func runPushList(cmd *cobra.Command, args []string) {
	products, err := selectProducts(args, func(monitor.Product) bool { return true })
	if err != nil {
		fail("%v", err)
	}
	store := openPushConfig()

	fmt.Println()
	for _, p := range products {
		cfg := store.ProductConfig(p.ID)
		output.Section(output.FormatProduct(p.Name, string(p.ID)), describePushConfig(cfg))
	}
	if path, err := config.DefaultSettingsPath(); err == nil {
		output.Dim.Printf("settings: %s\npush config: %s\n", path, store.Path())
	}
}

func describePushConfig(cfg monitor.ProductConfig) string {
	state := "enabled"
	if !cfg.Enabled {
		state = "disabled"
	}
	s := fmt.Sprintf("%s, cron %q, %s/%s", state, cfg.Cron, cfg.Format, cfg.Template)
	if len(cfg.Targets) == 0 {
		return s + "\nno targets"
	}
	for _, t := range cfg.Targets {
		s += "\n  " + t.String()
	}
	return s
}

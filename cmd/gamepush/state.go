package main

import (
	"context"

	"github.com/obentoo/gamepush/internal/common/output"
	"github.com/obentoo/gamepush/internal/monitor"
	"github.com/spf13/cobra"
)

// statePre targets the pre-download channel
var statePre bool

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Override stored versions",
	Long: `Set or clear the version gamepush compares against. Setting an older
version makes the next check announce the current one again.

Examples:
  gamepush state set ys 5.0.0        Pretend 5.0.0 is the last release seen
  gamepush state del sr --pre        Forget the stored pre-download`,
}

var stateSetCmd = &cobra.Command{
	Use:               "set <product> <version>",
	Short:             "Set a stored version",
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeProducts,
	Run:               runStateSet,
}

var stateDelCmd = &cobra.Command{
	Use:               "del <product>",
	Aliases:           []string{"delete", "rm"},
	Short:             "Clear a stored version",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeProducts,
	Run:               runStateDel,
}

func init() {
	stateCmd.PersistentFlags().BoolVar(&statePre, "pre", false, "Use the pre-download channel")

	stateCmd.AddCommand(stateSetCmd)
	stateCmd.AddCommand(stateDelCmd)
	rootCmd.AddCommand(stateCmd)
}

func stateChannel() monitor.Channel {
	if statePre {
		return monitor.ChannelPre
	}
	return monitor.ChannelMain
}

func runStateSet(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	p, err := resolveProduct(args[0])
	if err != nil {
		fail("%v", err)
	}
	a := openApp(ctx, appOptions{dryRun: true})
	defer a.close()

	ch := stateChannel()
	if err := a.engine.SetStoredVersion(ctx, p.ID, ch, args[1]); err != nil {
		fail("%v", err)
	}
	output.PrintSuccess("%s %s version set to %s", p.Name, ch.Label(), args[1])
}

func runStateDel(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	p, err := resolveProduct(args[0])
	if err != nil {
		fail("%v", err)
	}
	a := openApp(ctx, appOptions{dryRun: true})
	defer a.close()

	ch := stateChannel()
	if err := a.engine.DeleteStoredVersion(ctx, p.ID, ch); err != nil {
		fail("%v", err)
	}
	output.PrintSuccess("%s %s version cleared", p.Name, ch.Label())
}

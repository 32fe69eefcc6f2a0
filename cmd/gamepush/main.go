package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/obentoo/gamepush/internal/common/config"
	"github.com/obentoo/gamepush/internal/common/logger"
	"github.com/obentoo/gamepush/internal/common/output"
	"github.com/obentoo/gamepush/internal/monitor"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	quiet      bool
	noColor    bool
	logToFile  bool
	configPath string
	envFiles   []string
)

var rootCmd = &cobra.Command{
	Use:   "gamepush",
	Short: "Game update monitor and notifier",
	Long: `Watches the launcher backends of miHoYo and Kuro games for new releases and
pre-download windows, and announces them to chat groups through OneBot bots.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			logger.SetVerbose(true)
		}
		if quiet {
			logger.SetQuiet(true)
		}
		if noColor {
			output.NoColor()
		}
		if logToFile {
			if err := logger.Default().EnableFileLogging(); err != nil {
				logger.Warn("file logging disabled: %v", err)
			}
		}
		if err := config.LoadEnvFiles(append([]string{".env"}, envFiles...)...); err != nil {
			logger.Warn("loading env files: %v", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-file", false, "Also write logs under $XDG_STATE_HOME/gamepush/logs")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Settings file (default $XDG_CONFIG_HOME/gamepush/gamepush.toml)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Additional .env files to load")
}

// loadSettings reads the settings file named by --config or the default one.
func loadSettings() (*config.Settings, error) {
	if configPath != "" {
		return config.LoadFrom(configPath)
	}
	return config.Load()
}

// resolveProduct maps a product id or alias to a product.
func resolveProduct(arg string) (monitor.Product, error) {
	p, ok := monitor.LookupProduct(arg)
	if !ok {
		return monitor.Product{}, fmt.Errorf("%w: %q (known: %s)", monitor.ErrUnknownProduct, arg, productList())
	}
	return p, nil
}

func productList() string {
	var ids []string
	for _, p := range monitor.Products() {
		ids = append(ids, string(p.ID))
	}
	return strings.Join(ids, ", ")
}

// completeProducts offers product ids for positional arguments.
func completeProducts(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var ids []string
	for _, p := range monitor.Products() {
		ids = append(ids, string(p.ID)+"\t"+p.Name)
	}
	return ids, cobra.ShellCompDirectiveNoFileComp
}

// fail logs err and exits.
func fail(format string, args ...interface{}) {
	logger.Error(format, args...)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

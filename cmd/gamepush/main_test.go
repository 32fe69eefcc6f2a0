package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/obentoo/gamepush/internal/common/output"
	"github.com/obentoo/gamepush/internal/monitor"
)

func init() {
	output.NoColor()
}

// TestCommandsRegistered tests that every top-level command exists
func TestCommandsRegistered(t *testing.T) {
	want := []string{"serve", "check", "versions", "links", "history", "push", "state", "version", "completion"}
	have := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		have[cmd.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("command %s not registered", name)
		}
	}
}

// TestCommandFlags tests that flags are wired to their commands
func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd  string
		flag string
	}{
		{"serve", "check-now"},
		{"serve", "dry-run"},
		{"check", "dry-run"},
		{"check", "all"},
		{"links", "pre"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd+"/"+tt.flag, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{tt.cmd})
			if err != nil {
				t.Fatal(err)
			}
			if cmd.Flags().Lookup(tt.flag) == nil {
				t.Errorf("%s should have --%s", tt.cmd, tt.flag)
			}
		})
	}

	for _, name := range []string{"verbose", "quiet", "no-color", "config", "env-file", "log-file"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("root should have --%s", name)
		}
	}
	if stateCmd.PersistentFlags().Lookup("pre") == nil {
		t.Error("state should have --pre")
	}
}

// TestSubcommands tests the push and state command trees
func TestSubcommands(t *testing.T) {
	for _, path := range [][]string{{"push", "add"}, {"push", "rm"}, {"push", "ls"}, {"state", "set"}, {"state", "delete"}} {
		cmd, _, err := rootCmd.Find(path)
		if err != nil || cmd == rootCmd {
			t.Errorf("%v not found: %v", path, err)
		}
	}
}

func TestResolveProduct(t *testing.T) {
	tests := []struct {
		arg  string
		want monitor.ProductID
	}{
		{"ys", monitor.Genshin},
		{"原神", monitor.Genshin},
		{"星铁", monitor.StarRail},
		{"鸣潮", monitor.WutheringWaves},
		{" bh3 ", monitor.Honkai3},
	}
	for _, tt := range tests {
		p, err := resolveProduct(tt.arg)
		if err != nil || p.ID != tt.want {
			t.Errorf("resolveProduct(%q) = %v, %v", tt.arg, p.ID, err)
		}
	}

	_, err := resolveProduct("minecraft")
	if !errors.Is(err, monitor.ErrUnknownProduct) {
		t.Errorf("error = %v", err)
	}
	if !strings.Contains(err.Error(), "zzz") {
		t.Errorf("error should list known products: %v", err)
	}
}

func TestSelectProducts(t *testing.T) {
	all, err := selectProducts(nil, func(p monitor.Product) bool { return p.ID != monitor.Honkai3 })
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != len(monitor.Products())-1 {
		t.Errorf("selected %d products", len(all))
	}

	picked, err := selectProducts([]string{"ys", "原神", "ww"}, func(monitor.Product) bool { return false })
	if err != nil {
		t.Fatal(err)
	}
	if len(picked) != 2 || picked[0].ID != monitor.Genshin || picked[1].ID != monitor.WutheringWaves {
		t.Errorf("picked = %+v", picked)
	}

	if _, err := selectProducts([]string{"nope"}, nil); err == nil {
		t.Error("unknown product should fail")
	}
}

func TestOutcomeDetails(t *testing.T) {
	suppressed := outcomeDetails(monitor.Outcome{Suppressed: true})
	if len(suppressed) != 1 || !strings.Contains(suppressed[0], "first observation") {
		t.Errorf("suppressed = %v", suppressed)
	}

	lines := outcomeDetails(monitor.Outcome{
		Event: monitor.Event{Size: monitor.SizeInfo{TotalSize: 1536, HasTotal: true}},
		Report: &monitor.DispatchReport{
			Format:    monitor.FormatText,
			Delivered: 2,
			Failed:    map[monitor.Target]error{{BotID: "1", GroupID: "2"}: monitor.ErrDelivery},
		},
	})
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"total 1.50 KB", "sent as text to 2 target(s)", "failed 1:2"} {
		if !strings.Contains(joined, want) {
			t.Errorf("details missing %q:\n%s", want, joined)
		}
	}
}

func TestDescribePushConfig(t *testing.T) {
	cfg := monitor.DefaultProductConfig()
	if got := describePushConfig(cfg); !strings.Contains(got, "no targets") || !strings.HasPrefix(got, "enabled") {
		t.Errorf("describePushConfig() = %q", got)
	}
	cfg.Enabled = false
	cfg.Targets = []monitor.Target{{BotID: "10001", GroupID: "200"}}
	if got := describePushConfig(cfg); !strings.Contains(got, "10001:200") || !strings.HasPrefix(got, "disabled") {
		t.Errorf("describePushConfig() = %q", got)
	}
}

func TestCompletionOutput(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	defer rootCmd.SetOut(nil)
	rootCmd.SetArgs([]string{"completion", "bash"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "gamepush") {
		t.Error("bash completion does not mention gamepush")
	}
}

package output

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Property: event tags carry the ANSI code of their kind
func TestEventColorMatchesKind(t *testing.T) {
	ForceColor()
	defer NoColor()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	codes := map[string]string{
		"main":       "\x1b[32m",
		"pre":        "\x1b[36m",
		"pre-remove": "\x1b[33m",
		"failed":     "\x1b[31m",
	}

	kindGen := gen.OneConstOf("main", "pre", "pre-remove", "failed")

	properties.Property("FormatEvent contains the kind's ANSI code", prop.ForAll(
		func(kind string) bool {
			return strings.Contains(FormatEvent(kind), codes[kind])
		},
		kindGen,
	))

	properties.Property("FormatEvent wraps the kind in brackets", prop.ForAll(
		func(kind string) bool {
			return strings.Contains(FormatEvent(kind), "["+kind+"]")
		},
		kindGen,
	))

	properties.TestingRun(t)
}

func TestEventColorUnknownKind(t *testing.T) {
	if EventColor("bogus") == nil {
		t.Fatal("unknown kinds should fall back to a reset color")
	}
}

func TestFormatProductNoColor(t *testing.T) {
	NoColor()

	if got := FormatProduct("原神", "ys"); got != "原神 (ys)" {
		t.Errorf("FormatProduct = %q", got)
	}
	if got := FormatProduct("鸣潮", ""); got != "鸣潮" {
		t.Errorf("FormatProduct without key = %q", got)
	}
}

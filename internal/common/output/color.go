package output

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	// Event colors
	MainRelease = color.New(color.FgGreen)
	PreOpened   = color.New(color.FgCyan)
	PreClosed   = color.New(color.FgYellow)
	Failed      = color.New(color.FgRed)

	// Message colors
	Success = color.New(color.FgGreen)
	Warning = color.New(color.FgYellow)
	Error   = color.New(color.FgRed)
	Info    = color.New(color.FgCyan)
	Dim     = color.New(color.Faint)

	// Structural colors
	Header  = color.New(color.FgWhite, color.Bold)
	Product = color.New(color.FgBlue, color.Bold)
)

// NoColor disables color output
func NoColor() {
	color.NoColor = true
}

// ForceColor enables color output even when not a TTY
func ForceColor() {
	color.NoColor = false
}

// IsTerminal returns true if stdout is a terminal
func IsTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// EventColor returns the color for a notification event kind
// ("main", "pre", "pre-remove") or "failed".
func EventColor(kind string) *color.Color {
	switch kind {
	case "main":
		return MainRelease
	case "pre":
		return PreOpened
	case "pre-remove":
		return PreClosed
	case "failed":
		return Failed
	default:
		return color.New(color.Reset)
	}
}

// PrintSuccess prints a success message
func PrintSuccess(format string, args ...interface{}) {
	Success.Printf("✓ "+format+"\n", args...)
}

// PrintError prints an error message
func PrintError(format string, args ...interface{}) {
	Error.Fprintf(os.Stderr, "✗ "+format+"\n", args...)
}

// PrintWarning prints a warning message
func PrintWarning(format string, args ...interface{}) {
	Warning.Printf("⚠ "+format+"\n", args...)
}

// PrintInfo prints an info message
func PrintInfo(format string, args ...interface{}) {
	Info.Printf("→ "+format+"\n", args...)
}

// FormatEvent formats an event kind tag with its color
func FormatEvent(kind string) string {
	return EventColor(kind).Sprintf("[%s]", kind)
}

// FormatProduct formats a product display name with its short key
func FormatProduct(name, key string) string {
	if key != "" {
		return Product.Sprintf("%s (%s)", name, key)
	}
	return Product.Sprint(name)
}

// Section prints a titled block of preformatted text
func Section(title, content string) {
	Header.Println("── " + title + " ──")
	fmt.Println(content)
	fmt.Println()
}

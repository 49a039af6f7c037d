package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// noColor is set by --no-color or the NO_COLOR environment variable.
var noColor bool

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

// printReply writes a bot reply indented under a "bot>" marker.
func printReply(w io.Writer, reply string) {
	prefix := colorize(colorCyan, "bot>") + " "
	for i, line := range strings.Split(reply, "\n") {
		if i > 0 {
			prefix = "     "
		}
		fmt.Fprintln(w, prefix+line)
	}
}

// shortID trims a UUID to its first segment for list output.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

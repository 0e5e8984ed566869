package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/asta/histd/internal/history"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

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

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

const titleWidth = 40

// printRecords renders one line per record. Content is left out; use
// `histd history show` for the full text.
func printRecords(w io.Writer, records []history.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tUSER\tTITLE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.CreatedAt, owner(r), ellipsize(r.Title, titleWidth))
	}
	tw.Flush()
}

func printRecord(w io.Writer, r history.Record) {
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "ID:     "), colorize(colorCyan, r.ID))
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Title:  "), r.Title)
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "Created:"), r.CreatedAt)
	fmt.Fprintf(w, "%s %s\n", colorize(colorBold, "User:   "), owner(r))
	fmt.Fprintln(w)
	fmt.Fprintln(w, r.Content)
}

func ellipsize(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

// owner formats the user of r as "name (#id)", or "-" for anonymous records.
func owner(r history.Record) string {
	switch {
	case r.UserID == nil && r.Username == "":
		return "-"
	case r.UserID == nil:
		return r.Username
	case r.Username == "":
		return fmt.Sprintf("#%d", *r.UserID)
	default:
		return fmt.Sprintf("%s (#%d)", r.Username, *r.UserID)
	}
}

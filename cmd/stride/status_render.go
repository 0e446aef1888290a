package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const ansiReset = "\x1b[0m"

// statusStyles is indexed by statusKind.
var statusStyles = [...]struct {
	tag   string
	color string
}{
	statusInfo:  {"INFO", "\x1b[34m"},
	statusOK:    {"OK", "\x1b[32m"},
	statusWarn:  {"WARN", "\x1b[33m"},
	statusError: {"ERROR", "\x1b[31m"},
}

const labelColumn = 20

var titleCaser = cases.Title(language.English)

func (k statusKind) style() (tag, color string) {
	if k < 0 || int(k) >= len(statusStyles) {
		k = statusInfo
	}
	s := statusStyles[k]
	return s.tag, s.color
}

func paint(text, color string, colorize bool) string {
	if !colorize || color == "" {
		return text
	}
	return color + text + ansiReset
}

// renderStatusLine formats "  Label:   [TAG] message" with the label padded
// to a fixed column.
func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	tag, color := kind.style()
	var b strings.Builder
	fmt.Fprintf(&b, "  %-*s [%s]", labelColumn, label+":", tag)
	if message != "" {
		b.WriteString(" ")
		b.WriteString(message)
	}
	return paint(b.String(), color, colorize)
}

func renderSectionHeader(title string, colorize bool) []string {
	heading := "== " + strings.TrimSpace(title) + " =="
	_, blue := statusInfo.style()
	return []string{
		paint(heading, blue, colorize),
		paint(strings.Repeat("-", len(heading)), blue, colorize),
	}
}

// statusWriter prints headers and status lines to one destination, colouring
// them only when it is a terminal.
type statusWriter struct {
	out      io.Writer
	colorize bool
}

func newStatusWriter(out io.Writer) statusWriter {
	return statusWriter{out: out, colorize: shouldColorize(out)}
}

func (w statusWriter) header(title string) {
	for _, line := range renderSectionHeader(title, w.colorize) {
		fmt.Fprintln(w.out, line)
	}
}

func (w statusWriter) line(label string, kind statusKind, message string) {
	fmt.Fprintln(w.out, renderStatusLine(label, kind, message, w.colorize))
}

// stateLabel turns a wire state such as "processing" into "Processing".
func stateLabel(state string) string {
	state = strings.TrimSpace(strings.ReplaceAll(state, "_", " "))
	if state == "" {
		return "Unknown"
	}
	return titleCaser.String(state)
}

func stateKind(state string) statusKind {
	switch state {
	case "completed":
		return statusOK
	case "failed":
		return statusError
	case "processing", "queued":
		return statusWarn
	}
	return statusInfo
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

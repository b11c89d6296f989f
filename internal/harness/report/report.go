// Package report renders a harness Suite's results for a terminal: muted,
// dark-terminal-friendly colors, a checkmark/cross/bang glyph per line, and
// termenv's color-profile detection so output degrades gracefully when
// stdout is not a TTY.
package report

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"distsim/internal/harness"
)

var (
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
)

// Print writes one line per scenario result, then a summary line, to w.
// profile pins termenv's color profile (e.g. termenv.Ascii for piped CI
// output, termenv.ColorProfile() to match the current terminal), so the
// same renderer that drives the colors also decides whether to emit them
// at all.
func Print(w io.Writer, suite *harness.Suite, profile termenv.Profile) {
	renderer := lipgloss.NewRenderer(w, termenv.WithProfile(profile))
	successStyle := renderer.NewStyle().Foreground(green)
	errorStyle := renderer.NewStyle().Foreground(red)
	warnStyle := renderer.NewStyle().Foreground(yellow)
	mutedStyle := renderer.NewStyle().Foreground(dim)
	boldStyle := renderer.NewStyle().Bold(true)

	results := suite.Results()
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
			fmt.Fprintln(w, successStyle.Render("✓")+" "+r.Name)
			continue
		}
		fmt.Fprintln(w, errorStyle.Render("✗")+" "+r.Name+" "+mutedStyle.Render(fmt.Sprintf("(%v)", r.Err)))
	}
	if fatal := suite.Fatal(); fatal != nil {
		fmt.Fprintln(w, warnStyle.Render("!")+" aborted: "+fatal.Error())
	}

	summary := fmt.Sprintf("%d/%d passed", passed, len(results))
	if suite.Passed() {
		fmt.Fprintln(w, boldStyle.Render(successStyle.Render(summary)))
	} else {
		fmt.Fprintln(w, boldStyle.Render(errorStyle.Render(summary)))
	}
}

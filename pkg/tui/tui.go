// Package tui renders CLI output: summaries, progress, errors.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/tabflow/tabflow/pkg/importer"
)

var (
	accent  = lipgloss.Color("#FF8800")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
)

// PrintImportSummary renders the result of one import session.
func PrintImportSummary(sess *importer.Session) {
	fmt.Println()
	fmt.Println(successStyle.Render("  ✓ IMPORT COMPLETE"))
	fmt.Println()
	fmt.Printf("  %s %s\n", mutedStyle.Render("File:"), titleStyle.Render(sess.Input.Path))
	fmt.Printf("  %s %s %s\n",
		mutedStyle.Render("Plan:"),
		titleStyle.Render(sess.Decision.Strategy.String()),
		mutedStyle.Render(fmt.Sprintf("(batch %d, workers %d)", sess.Decision.BatchSize, sess.Decision.Workers)))
	fmt.Printf("  %s %s accepted, %s rejected",
		mutedStyle.Render("Rows:"),
		titleStyle.Render(formatNumber(sess.Stats.Accepted)),
		titleStyle.Render(formatNumber(sess.Stats.Rejected)))
	if sess.Stats.SoftErrors > 0 {
		fmt.Printf(" %s", mutedStyle.Render(fmt.Sprintf("(%d bad cells)", sess.Stats.SoftErrors)))
	}
	fmt.Println()
	fmt.Printf("  %s %s\n", mutedStyle.Render("Saved:"), titleStyle.Render(formatNumber(sess.Saved)))
	if sess.Elapsed > 0 {
		rate := float64(sess.Stats.RowsSeen) / sess.Elapsed.Seconds()
		fmt.Printf("  %s %s %s\n",
			mutedStyle.Render("Time:"),
			titleStyle.Render(formatDuration(sess.Elapsed)),
			mutedStyle.Render(fmt.Sprintf("(%s rows/sec)", formatNumber(int64(rate)))))
	}
	fmt.Println()
}

// PrintExportSummary renders the result of one export run.
func PrintExportSummary(path string, rows int64, elapsed time.Duration) {
	fmt.Println()
	fmt.Println(successStyle.Render("  ✓ EXPORT COMPLETE"))
	fmt.Println()
	fmt.Printf("  %s %s\n", mutedStyle.Render("File:"), titleStyle.Render(path))
	fmt.Printf("  %s %s %s\n",
		mutedStyle.Render("Rows:"),
		titleStyle.Render(formatNumber(rows)),
		mutedStyle.Render(fmt.Sprintf("(%s)", formatDuration(elapsed))))
	fmt.Println()
}

// PrintError renders a failure prominently.
func PrintError(err error) {
	fmt.Println()
	fmt.Println(accentStyle.Render("  ✗ " + err.Error()))
	fmt.Println()
}

// ShowProgress creates a row-count progress bar.
func ShowProgress(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

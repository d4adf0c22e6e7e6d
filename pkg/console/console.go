package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ZerkerEOD/krakenwifi/internal/models"
)

var (
	// Global writer for console output
	writer io.Writer = os.Stdout

	mu sync.Mutex

	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorRed    = "\033[31m"

	colorsSupported = isTerminal()
)

// isTerminal checks if stdout is a terminal
func isTerminal() bool {
	fileInfo, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// SetWriter sets the output writer (useful for testing)
func SetWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	writer = w
}

func color(text, colorCode string) string {
	if !colorsSupported {
		return text
	}
	return colorCode + text + colorReset
}

// Print outputs a message to the console
func Print(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintln(writer, fmt.Sprintf(format, args...))
}

// Info outputs an info message
func Info(format string, args ...interface{}) {
	Print("["+color("INFO", colorBlue)+"] "+format, args...)
}

// Success outputs a success message in green
func Success(format string, args ...interface{}) {
	Print("["+color("OK", colorGreen)+"] "+format, args...)
}

// Warning outputs a warning message in yellow
func Warning(format string, args ...interface{}) {
	Print("["+color("WARN", colorYellow)+"] "+format, args...)
}

// Error outputs an error message in red
func Error(format string, args ...interface{}) {
	Print("["+color("ERROR", colorRed)+"] "+format, args...)
}

// ProgressBar generates a progress bar string
func ProgressBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	filled := int(float64(width) * percent / 100)
	if filled > width {
		filled = width
	}

	bar := "[" + strings.Repeat("=", filled)
	if filled < width {
		bar += ">" + strings.Repeat(" ", width-filled-1)
	}
	return bar + "]"
}

// FormatSpeed formats hash rate into human-readable format
func FormatSpeed(hashesPerSecond int64) string {
	const (
		KH = 1000
		MH = KH * 1000
		GH = MH * 1000
		TH = GH * 1000
	)

	switch {
	case hashesPerSecond >= TH:
		return fmt.Sprintf("%.2f TH/s", float64(hashesPerSecond)/TH)
	case hashesPerSecond >= GH:
		return fmt.Sprintf("%.2f GH/s", float64(hashesPerSecond)/GH)
	case hashesPerSecond >= MH:
		return fmt.Sprintf("%.2f MH/s", float64(hashesPerSecond)/MH)
	case hashesPerSecond >= KH:
		return fmt.Sprintf("%.2f KH/s", float64(hashesPerSecond)/KH)
	default:
		return fmt.Sprintf("%d H/s", hashesPerSecond)
	}
}

// FormatDuration formats seconds into human-readable format. Negative means unknown.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		return "calculating..."
	}

	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, secs)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, secs)
	}
	return fmt.Sprintf("%ds", secs)
}

// FormatJobProgress renders a one-line summary of a job
func FormatJobProgress(job *models.Job) string {
	p := job.Progress
	line := fmt.Sprintf("%s %-9s %s %6.2f%% | cracked %d/%d | %s | ETA: %s",
		job.ID, job.State, ProgressBar(p.Percent, 30), p.Percent,
		p.Cracked, p.HashesTotal, FormatSpeed(p.Throughput), FormatDuration(p.ETASeconds))
	if job.Cause != "" {
		line += " | cause: " + string(job.Cause)
	}
	if job.Stalled {
		line += " | stalled"
	}
	return line
}

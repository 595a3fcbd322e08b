package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"

	"qaboard/internal/app"
	"qaboard/internal/config"
	"qaboard/internal/logging"
)

type cliOptions struct {
	cfg       config.Config
	altScreen bool
}

// parseFlags overlays command-line flags on the resolved configuration.
func parseFlags(args []string, base config.Config, stderr io.Writer) (cliOptions, error) {
	opts := cliOptions{cfg: base}
	cfg := &opts.cfg

	fs := flag.NewFlagSet("qaboard-tui", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.APIURL, "api-url", cfg.APIURL, "Board REST base URL")
	fs.StringVar(&cfg.WSURL, "ws-url", cfg.WSURL, "Board push channel URL")
	fs.DurationVar(&cfg.ReconnectDelay, "reconnect-delay", cfg.ReconnectDelay, "Delay before reconnecting after an abnormal close")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Question list refresh interval while the push channel is down")
	fs.StringVar(&cfg.SessionFile, "session-file", cfg.SessionFile, "Stored user record (JSON)")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Log file path (empty disables logging)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug|info|warn|error)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve Prometheus metrics on this address (empty disables)")
	fs.BoolVar(&opts.altScreen, "alt-screen", true, "Use alternate screen buffer")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

func run(args []string) error {
	base, err := config.Load(config.DefaultPath())
	if err != nil {
		return err
	}
	opts, err := parseFlags(args, base, os.Stderr)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Level:  opts.cfg.LogLevel,
		Format: opts.cfg.LogFormat,
		Path:   opts.cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	a, err := app.New(opts.cfg, logger.Logger, app.Deps{})
	if err != nil {
		return err
	}
	defer a.Shutdown()

	programOpts := []tea.ProgramOption{tea.WithMouseCellMotion()}
	if opts.altScreen {
		programOpts = append(programOpts, tea.WithAltScreen())
	}
	logger.Info("qaboard starting", "api_url", opts.cfg.APIURL, "ws_url", opts.cfg.WSURL)
	_, err = tea.NewProgram(newModel(a), programOpts...).Run()
	return err
}

func wrapText(text string, width int) string {
	if width <= 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	wrapped := make([]string, 0, len(lines))
	for _, line := range lines {
		words := strings.Fields(line)
		if len(words) == 0 {
			wrapped = append(wrapped, "")
			continue
		}
		current := words[0]
		for _, word := range words[1:] {
			if utf8.RuneCountInString(current)+1+utf8.RuneCountInString(word) <= width {
				current += " " + word
				continue
			}
			wrapped = append(wrapped, current)
			current = word
		}
		wrapped = append(wrapped, current)
	}
	return strings.Join(wrapped, "\n")
}

// compactMessage folds blank runs and caps long answers by lines and chars.
func compactMessage(text string, maxLines int, maxChars int) string {
	normalized := strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if normalized == "" {
		return ""
	}

	rawLines := strings.Split(normalized, "\n")
	lines := make([]string, 0, len(rawLines))
	lastBlank := false
	for _, line := range rawLines {
		trimmed := strings.TrimRight(line, " \t")
		isBlank := strings.TrimSpace(trimmed) == ""
		if isBlank && lastBlank {
			continue
		}
		lines = append(lines, trimmed)
		lastBlank = isBlank
	}

	if maxLines > 0 && len(lines) > maxLines {
		hidden := len(lines) - maxLines
		lines = append(lines[:maxLines], fmt.Sprintf("[... %d lines hidden]", hidden))
	}

	joined := strings.TrimSpace(strings.Join(lines, "\n"))
	if maxChars > 0 && utf8.RuneCountInString(joined) > maxChars {
		return strings.TrimSpace(truncate(joined, maxChars-18) + "\n[... truncated]")
	}
	return joined
}

// truncate cuts on rune boundaries.
func truncate(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}

func compactSingleLine(text string, limit int) string {
	compact := strings.Join(strings.Fields(text), " ")
	return truncate(compact, limit)
}

func parsePosition(ref string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(ref), "#"))
	if err != nil {
		return 0, false
	}
	return n, true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clampInt(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "qaboard-tui fatal error: %v\n", err)
		os.Exit(1)
	}
}

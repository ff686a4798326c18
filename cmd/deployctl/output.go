package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
	colorCyan   = "\x1b[36m"
	colorReset  = "\x1b[0m"
)

// output writes operator facing text. Diagnostics go through zerolog.
type output struct {
	w     io.Writer
	color bool
}

var out = &output{w: os.Stdout}

func initOutput(debug bool) {
	out.color = isatty.IsTerminal(os.Stdout.Fd())

	level := zerolog.WarnLevel
	if debug {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}).Level(level)
}

func (o *output) paint(color, s string) string {
	if !o.color {
		return s
	}
	return color + s + colorReset
}

func (o *output) Info(msg string) {
	fmt.Fprintln(o.w, msg)
}

func (o *output) Infof(format string, args ...interface{}) {
	o.Info(fmt.Sprintf(format, args...))
}

func (o *output) Success(msg string) {
	fmt.Fprintf(o.w, "%s %s\n", o.paint(colorGreen, "✓"), msg)
}

func (o *output) Warn(msg string) {
	fmt.Fprintln(o.w, o.paint(colorYellow, msg))
}

func (o *output) Error(msg string) {
	fmt.Fprintln(os.Stderr, o.paint(colorRed, msg))
}

func (o *output) severityColor(s deploy.Severity) string {
	switch s {
	case deploy.SeveritySuccess:
		return colorGreen
	case deploy.SeverityWarning:
		return colorYellow
	case deploy.SeverityError:
		return colorRed
	}
	return colorCyan
}

func (o *output) LogEntry(e *deploy.LogEntry) {
	level := o.paint(o.severityColor(e.Severity), fmt.Sprintf("[%s]", strings.ToUpper(string(e.Severity))))
	service := ""
	if e.Service != "" {
		service = " (" + e.Service + ")"
	}
	fmt.Fprintf(o.w, "%s %-5s %s%s %s\n", e.Timestamp.Format("15:04:05"), e.Channel, level, service, e.Message)
}

func (o *output) stateColor(s deploy.State) string {
	switch s {
	case deploy.StateRunning, deploy.StateDeployed:
		return colorGreen
	case deploy.StateStarting, deploy.StateStopping, deploy.StateDeploying:
		return colorYellow
	case deploy.StateFailed:
		return colorRed
	}
	return colorReset
}

func (o *output) Status(s *deploy.Status) {
	fmt.Fprintf(o.w, "%-6s %s", s.Target, o.paint(o.stateColor(s.State), string(s.State)))
	if s.Service != "" {
		fmt.Fprintf(o.w, "  service=%s", s.Service)
	}
	if s.Environment != "" {
		fmt.Fprintf(o.w, "  environment=%s", s.Environment)
	}
	if url := s.Result["url"]; url != "" {
		fmt.Fprintf(o.w, "  url=%s", url)
	}
	if s.Error != "" {
		fmt.Fprintf(o.w, "  error=%q", s.Error)
	}
	fmt.Fprintln(o.w)
}

package inspector

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/floegence/previewdev/observability"
)

// Printer writes classified events to the terminal. Styles are bound to the
// writer they print to, so a redirected stream gets plain text.
type Printer struct {
	stdout io.Writer
	stderr io.Writer

	logStyle       lipgloss.Style
	errorStyle     lipgloss.Style
	exceptionStyle lipgloss.Style
}

// NewPrinter returns a Printer for the given streams.
func NewPrinter(stdout, stderr io.Writer) *Printer {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	outR := lipgloss.NewRenderer(stdout)
	errR := lipgloss.NewRenderer(stderr)
	return &Printer{
		stdout:         stdout,
		stderr:         stderr,
		logStyle:       outR.NewStyle().Foreground(lipgloss.Color("4")).TabWidth(lipgloss.NoTabConversion),
		errorStyle:     errR.NewStyle().Foreground(lipgloss.Color("1")).TabWidth(lipgloss.NoTabConversion),
		exceptionStyle: errR.NewStyle().Foreground(lipgloss.Color("1")).Bold(true).TabWidth(lipgloss.NoTabConversion),
	}
}

// Print writes ev and reports which kind it was.
func (p *Printer) Print(ev Event) observability.EventKind {
	switch e := ev.(type) {
	case *ConsoleEvent:
		switch e.Type {
		case "log":
			p.line(p.stdout, p.logStyle, e.String())
			return observability.EventKindConsoleLog
		case "error":
			p.line(p.stderr, p.errorStyle, e.String())
			return observability.EventKindConsoleError
		default:
			_, _ = fmt.Fprintf(p.stdout, "unknown console event: %s\n", e.String())
			return observability.EventKindConsoleOther
		}
	case *ExceptionEvent:
		p.line(p.stderr, p.exceptionStyle, e.String())
		return observability.EventKindException
	default:
		return observability.EventKindUnclassified
	}
}

// line styles each line on its own; lipgloss pads multi-line blocks to a
// common width otherwise.
func (p *Printer) line(w io.Writer, st lipgloss.Style, s string) {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = st.Render(l)
	}
	_, _ = io.WriteString(w, strings.Join(lines, "\n")+"\n")
}

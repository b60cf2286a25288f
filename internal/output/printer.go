// Package output renders race results for a terminal.
package output

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/torosent/chorus/internal/results"
	"github.com/torosent/chorus/internal/runner"
)

var providerColors = map[string]lipgloss.Color{
	"openai":     lipgloss.Color("#10a37f"),
	"anthropic":  lipgloss.Color("#d97757"),
	"openrouter": lipgloss.Color("#6467f2"),
	"deepseek":   lipgloss.Color("#4d6bfe"),
	"groq":       lipgloss.Color("#f55036"),
	"mistral":    lipgloss.Color("#fa520f"),
	"xai":        lipgloss.Color("#9ca3af"),
	"ollama":     lipgloss.Color("#e5e7eb"),
}

var fallbackColors = []lipgloss.Color{"#01cdfe", "#ff71ce", "#05ffa1", "#b967ff", "#fffb96"}

type styles struct {
	muted   lipgloss.Style
	errText lipgloss.Style
	notice  lipgloss.Style
	summary lipgloss.Style
	header  func(provider string) lipgloss.Style
}

// Printer writes headers, streamed text, notices and the summary. It is not
// safe for concurrent use; a race gives it to exactly one goroutine.
type Printer struct {
	w           io.Writer
	color       bool
	styles      styles
	sections    int
	atLineStart bool
	err         error
}

// NewPrinter creates a printer. With color disabled the output is plain
// text, byte for byte.
func NewPrinter(w io.Writer, color bool) *Printer {
	if w == nil {
		w = io.Discard
	}
	p := &Printer{w: w, color: color, atLineStart: true}
	if color {
		r := lipgloss.NewRenderer(w)
		p.styles = styles{
			muted:   r.NewStyle().Faint(true),
			errText: r.NewStyle().Foreground(lipgloss.Color("#ef4444")),
			notice:  r.NewStyle().Foreground(lipgloss.Color("#f59e0b")).Italic(true),
			summary: r.NewStyle().Bold(true),
			header: func(provider string) lipgloss.Style {
				return r.NewStyle().Bold(true).Foreground(colorFor(provider))
			},
		}
	}
	return p
}

func colorFor(provider string) lipgloss.Color {
	if c, ok := providerColors[provider]; ok {
		return c
	}
	sum := 0
	for _, r := range provider {
		sum += int(r)
	}
	return fallbackColors[sum%len(fallbackColors)]
}

// Err returns the first write error. Every write after it is skipped.
func (p *Printer) Err() error {
	return p.err
}

func (p *Printer) write(s string) {
	if p.err != nil {
		return
	}
	if _, err := io.WriteString(p.w, s); err != nil {
		p.err = err
	}
}

func (p *Printer) writeln(s string) {
	p.write(s + "\n")
}

func (p *Printer) render(style func() lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return style().Render(s)
}

// Header starts a target's section: "<provider> (<model>):" followed by the
// first-chunk latency when known.
func (p *Printer) Header(target runner.Target, firstChunk time.Duration) {
	p.endLine()
	if p.sections > 0 {
		p.writeln("")
	}
	p.sections++

	title := fmt.Sprintf("%s (%s):", target.Provider, target.Model)
	line := p.render(func() lipgloss.Style { return p.styles.header(target.Provider) }, title)
	if firstChunk > 0 {
		line += " " + p.render(func() lipgloss.Style { return p.styles.muted }, "["+FormatLatency(firstChunk)+"]")
	}
	p.writeln(line)
	p.atLineStart = true
}

// Text writes streamed text verbatim.
func (p *Printer) Text(s string) {
	if s == "" {
		return
	}
	p.write(s)
	p.atLineStart = strings.HasSuffix(s, "\n")
}

// Error prints a target's failure inline.
func (p *Printer) Error(info *results.ErrorInfo) {
	p.endLine()
	msg := "unknown error"
	if info != nil {
		msg = info.Message
		if info.Code != "" && !strings.Contains(msg, info.Code) {
			msg = fmt.Sprintf("%s (%s)", msg, info.Code)
		}
	}
	p.writeln(p.render(func() lipgloss.Style { return p.styles.errText }, "error: "+msg))
	p.atLineStart = true
}

// Notice prints a bracketed status line such as "[aborted]".
func (p *Printer) Notice(text string) {
	p.endLine()
	p.writeln(p.render(func() lipgloss.Style { return p.styles.notice }, "["+text+"]"))
	p.atLineStart = true
}

// Summary prints the trailing summary line.
func (p *Printer) Summary(s results.Summary) {
	p.endLine()
	p.writeln("")
	p.writeln(p.render(func() lipgloss.Style { return p.styles.summary }, s.Line()))
	p.atLineStart = true
}

// Replay renders a settled summary, such as one read back from the cache,
// in target order. Multi-target summaries end with the summary line.
func (p *Printer) Replay(s results.Summary) {
	for _, o := range s.Outcomes {
		p.Header(o.Target, time.Duration(o.FirstChunkMs)*time.Millisecond)
		switch {
		case o.Text != nil:
			p.Text(*o.Text)
		case o.Error != nil:
			p.Error(o.Error)
		default:
			p.Notice(o.Status.String())
		}
	}
	if len(s.Outcomes) > 1 {
		p.Summary(s)
		return
	}
	if s.Cached {
		p.Notice("cached")
		return
	}
	p.Finish()
}

// Finish terminates a dangling line.
func (p *Printer) Finish() {
	p.endLine()
}

func (p *Printer) endLine() {
	if !p.atLineStart {
		p.writeln("")
		p.atLineStart = true
	}
}

// FormatLatency renders d with millisecond precision below a second and
// hundredths above.
func FormatLatency(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Round(10*time.Millisecond).Seconds())
}

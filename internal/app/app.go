package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	barStyle    = lipgloss.NewStyle().Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true)
)

// maxUnitLines bounds the recent-units list.
const maxUnitLines = 8

// ProgressModel renders a running fetch: overall bar, rows so far and the
// most recent units, failures highlighted.
type ProgressModel struct {
	title   string
	state   RunState
	spinner spinner.Model
	bar     progress.Model
	cancel  context.CancelFunc
	started time.Time

	total      int
	done       int
	failed     int
	cumulative int
	recent     []UnitDoneMsg

	summary  string
	finalErr error
	width    int
}

// NewProgressModel returns a model for title. cancel, when not nil, is
// called if the user presses q or ctrl+c.
func NewProgressModel(title string, cancel context.CancelFunc) *ProgressModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return &ProgressModel{
		title:   title,
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient()),
		cancel:  cancel,
		started: time.Now(),
	}
}

func (m *ProgressModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state == Running {
				m.state = Cancelling
				if m.cancel != nil {
					m.cancel()
				}
			}
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(10, msg.Width-20)
	case TotalMsg:
		m.total = msg.Total
	case UnitDoneMsg:
		m.done++
		if !msg.Success {
			m.failed++
		}
		m.cumulative = msg.Cumulative
		m.recent = append(m.recent, msg)
		if len(m.recent) > maxUnitLines {
			m.recent = m.recent[len(m.recent)-maxUnitLines:]
		}
	case FinishedMsg:
		m.state = Finished
		m.summary = msg.Summary
		m.finalErr = msg.Err
		return m, tea.Quit
	case spinner.TickMsg:
		if m.state != Finished {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

func (m *ProgressModel) percent() float64 {
	if m.total <= 0 {
		return 0
	}
	return min(1, float64(m.done)/float64(m.total))
}

func (m *ProgressModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")

	if m.state == Finished {
		if m.finalErr != nil {
			b.WriteString(errorStyle.Render("Failed: " + m.finalErr.Error()))
		} else {
			b.WriteString(okStyle.Render(m.summary))
		}
		b.WriteString("\n")
		return b.String()
	}

	status := "Fetching"
	if m.state == Cancelling {
		status = "Cancelling, waiting for pending writes"
	}
	b.WriteString(fmt.Sprintf("%s %s  %d rows  %s\n", m.spinner.View(), status, m.cumulative, time.Since(m.started).Round(time.Second)))
	b.WriteString(barStyle.Render(m.bar.ViewAs(m.percent())))
	b.WriteString(fmt.Sprintf(" (%d/%d", m.done, m.total))
	if m.failed > 0 {
		b.WriteString(errorStyle.Render(fmt.Sprintf(", %d failed", m.failed)))
	}
	b.WriteString(")\n\n")

	if len(m.recent) > 0 {
		b.WriteString(headerStyle.Render(fmt.Sprintf("%-26s | %s", "Unit", "Result")))
		b.WriteString("\n")
		for _, u := range m.recent {
			if u.Success {
				b.WriteString(fmt.Sprintf("%-26s | %s\n", u.Label, okStyle.Render(fmt.Sprintf("%d rows", u.Rows))))
				continue
			}
			errMsg := u.ErrMsg
			if m.width > 40 {
				errMsg = ansi.Truncate(errMsg, m.width-32, "...")
			}
			b.WriteString(fmt.Sprintf("%-26s | %s\n", u.Label, errorStyle.Render("error: "+errMsg)))
		}
	}
	b.WriteString("\n")
	b.WriteString(infoStyle.Render("'q' or Ctrl+C to cancel; fetched data is still written."))
	return b.String()
}

// Progress drives a ProgressModel running in its own tea.Program.
type Progress struct {
	program *tea.Program
	done    chan struct{}
	once    sync.Once
	err     error
}

// StartProgress starts the view on out. Key input is read from the terminal
// unless opts say otherwise.
func StartProgress(title string, out io.Writer, cancel context.CancelFunc, opts ...tea.ProgramOption) *Progress {
	opts = append([]tea.ProgramOption{tea.WithOutput(out)}, opts...)
	p := &Progress{
		program: tea.NewProgram(NewProgressModel(title, cancel), opts...),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		_, p.err = p.program.Run()
	}()
	return p
}

// Total sets the unit count.
func (p *Progress) Total(n int) {
	p.program.Send(TotalMsg{Total: n})
}

// Done reports a finished unit. Safe for concurrent use.
func (p *Progress) Done(msg UnitDoneMsg) {
	p.program.Send(msg)
}

// Finish renders the summary, stops the program and waits for it to exit.
func (p *Progress) Finish(summary string, err error) error {
	p.once.Do(func() {
		p.program.Send(FinishedMsg{Summary: summary, Err: err})
		<-p.done
	})
	return p.err
}

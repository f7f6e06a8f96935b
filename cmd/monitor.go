package cmd

import (
	"context"
	"fmt"
	"time"

	"booth-bridge/bridge"
	"booth-bridge/progress"
	"booth-bridge/ui"

	bprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

const monitorPollInterval = 500 * time.Millisecond

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch extraction progress of a running relay",
	Long: `Polls the relay's /progress endpoint and shows the archive currently
being extracted. Press q to quit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		p := tea.NewProgram(initialMonitorModel(bridge.NewClient(addr, "booth-bridge/monitor")))
		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().String("addr", fmt.Sprintf("localhost:%d", bridge.DefaultPort), "Relay address")
}

// progressSource is what the monitor polls.
type progressSource interface {
	Progress(ctx context.Context) (progress.State, error)
}

type progressPolledMsg struct {
	state progress.State
	err   error
}

type pollTickMsg struct{}

// MonitorModel renders the relay's progress state.
type MonitorModel struct {
	spinner spinner.Model
	bar     bprogress.Model
	source  progressSource

	state     progress.State
	err       error
	lastFile  string
	lastStage progress.Stage
	completed int
	failed    int
	quitting  bool
}

func initialMonitorModel(source progressSource) MonitorModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return MonitorModel{
		spinner: s,
		bar:     bprogress.New(bprogress.WithDefaultGradient(), bprogress.WithWidth(40)),
		source:  source,
		state:   progress.Idle(),
	}
}

func (m MonitorModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

func (m MonitorModel) poll() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		state, err := m.source.Progress(ctx)
		return progressPolledMsg{state: state, err: err}
	}
}

func schedulePoll() tea.Cmd {
	return tea.Tick(monitorPollInterval, func(time.Time) tea.Msg { return pollTickMsg{} })
}

func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case pollTickMsg:
		return m, m.poll()

	case progressPolledMsg:
		m.err = msg.err
		if msg.err == nil {
			m.observe(msg.state)
		}
		return m, schedulePoll()
	}

	return m, nil
}

// observe counts each terminal state once per file.
func (m *MonitorModel) observe(state progress.State) {
	terminal := state.Stage == progress.StageCompleted || state.Stage == progress.StageError
	if terminal && (state.FileName != m.lastFile || state.Stage != m.lastStage) {
		if state.Stage == progress.StageCompleted {
			m.completed++
		} else {
			m.failed++
		}
	}
	if state.Stage != progress.StageIdle {
		m.lastFile = state.FileName
		m.lastStage = state.Stage
	}
	m.state = state
}

func (m MonitorModel) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return fmt.Sprintf("\n %s %s\n   %s\n",
			m.spinner.View(),
			ui.Colorize("Relay unreachable, retrying...", "9"),
			ui.MutedStyle.Render(m.err.Error()))
	}

	var s string
	switch m.state.Stage {
	case progress.StageExtracting:
		s = fmt.Sprintf("\n %s %s\n\n", m.spinner.View(), ui.Stage(m.state.Stage, m.state.FileName))
		s += "   " + m.bar.ViewAs(float64(m.state.Percent)/100) + "\n"
		if m.state.Message != "" {
			s += "   " + ui.MutedStyle.Render(m.state.Message) + "\n"
		}
	case progress.StageCompleted:
		s = fmt.Sprintf("\n %s %s\n   %s\n", ui.Stage(m.state.Stage, "✓"), m.state.FileName, m.state.Message)
	case progress.StageError:
		s = fmt.Sprintf("\n %s %s\n   %s\n", ui.Stage(m.state.Stage, "✗"), m.state.FileName, m.state.Message)
	default:
		s = fmt.Sprintf("\n %s Waiting for downloads...\n", m.spinner.View())
	}

	s += "\n" + ui.FooterStyle.Render(fmt.Sprintf("imported %d  failed %d  ·  q: quit", m.completed, m.failed)) + "\n"
	return s
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF00FF")).
			MarginLeft(2).
			MarginTop(1)

	contentStyle = lipgloss.NewStyle().
			MarginLeft(2).
			MarginTop(1)

	statsBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#00FF00")).
			Padding(1, 2).
			MarginRight(2)

	modesBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("#FFFF00")).
			Padding(1, 2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			MarginTop(1).
			MarginLeft(2)
)

type keyMap struct {
	Start key.Binding
	Stop  key.Binding
	Quit  key.Binding
}

var keys = keyMap{
	Start: key.NewBinding(
		key.WithKeys("s"),
		key.WithHelp("s", "start run"),
	),
	Stop: key.NewBinding(
		key.WithKeys("x"),
		key.WithHelp("x", "stop run"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Start, k.Stop, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Start, k.Stop}, {k.Quit}}
}

// run phases shown in the status line
const (
	phaseWaiting  = "waiting"
	phaseRunning  = "running"
	phaseComplete = "complete"
	phaseFailed   = "failed"
)

const reconnectDelay = time.Second

type reconnectMsg struct{}

type actionMsg struct {
	reply statusReply
	err   error
}

type model struct {
	ctx       context.Context
	client    *client
	startBody []byte
	events    <-chan tea.Msg

	progress progress.Model
	help     help.Model
	keys     keyMap
	width    int

	connected  bool
	streamErr  error
	keepalives int

	phase    string
	tEnd     float64
	dt       float64
	t        float64
	steps    int
	vMin     float64
	vMax     float64
	speedMin float64
	speedMax float64

	result  *completeMsg
	failure string

	message    string
	messageErr bool
}

func initialModel(ctx context.Context, c *client, startBody []byte) model {
	return model{
		ctx:       ctx,
		client:    c,
		startBody: startBody,
		progress:  progress.New(progress.WithDefaultGradient()),
		help:      help.New(),
		keys:      keys,
		phase:     phaseWaiting,
	}
}

func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return msg
	}
}

func (m model) connect() (model, tea.Cmd) {
	m.events = m.client.subscribe(m.ctx)
	return m, waitForEvent(m.events)
}

func (m model) Init() tea.Cmd {
	return func() tea.Msg { return reconnectMsg{} }
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		m.progress.Width = max(10, min(msg.Width-8, 80))
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Start):
			return m, m.action(m.client.start, m.startBody)
		case key.Matches(msg, m.keys.Stop):
			return m, m.action(func(ctx context.Context, _ []byte) (statusReply, error) {
				return m.client.stop(ctx)
			}, nil)
		}
		return m, nil

	case actionMsg:
		if msg.err != nil {
			m.message, m.messageErr = msg.err.Error(), true
		} else {
			m.message, m.messageErr = msg.reply.Message, false
		}
		return m, nil

	case reconnectMsg:
		return m.connect()

	case streamClosedMsg:
		m.connected = false
		m.streamErr = msg.err
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case progress.FrameMsg:
		pm, cmd := m.progress.Update(msg)
		m.progress = pm.(progress.Model)
		return m, cmd

	case streamOpenMsg, keepaliveMsg, initMsg, stepMsg, completeMsg, errorMsg:
		m = m.apply(msg)
		if m.events == nil {
			return m, nil
		}
		return m, waitForEvent(m.events)
	}
	return m, nil
}

// apply folds one stream message into the model
func (m model) apply(msg tea.Msg) model {
	switch msg := msg.(type) {
	case streamOpenMsg:
		m.connected = true
		m.streamErr = nil
	case keepaliveMsg:
		m.keepalives++
	case initMsg:
		m.phase = phaseRunning
		m.tEnd, m.dt = msg.TEnd, msg.Dt
		m.t, m.steps = 0, 0
		m.result, m.failure = nil, ""
	case stepMsg:
		m.phase = phaseRunning
		m.t = msg.T
		m.steps++
		if len(msg.VMagnitude) > 0 {
			m.vMin, m.vMax = slices.Min(msg.VMagnitude), slices.Max(msg.VMagnitude)
		}
		if len(msg.GenSpeed) > 0 {
			m.speedMin, m.speedMax = slices.Min(msg.GenSpeed), slices.Max(msg.GenSpeed)
		}
	case completeMsg:
		m.phase = phaseComplete
		m.result = &msg
		if n := len(msg.T); n > 0 {
			m.t = msg.T[n-1]
		}
	case errorMsg:
		m.phase = phaseFailed
		m.failure = string(msg)
	}
	return m
}

func (m model) action(do func(context.Context, []byte) (statusReply, error), body []byte) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		reply, err := do(ctx, body)
		return actionMsg{reply: reply, err: err}
	}
}

// fraction is the share of simulated time covered so far
func (m model) fraction() float64 {
	if m.tEnd <= 0 {
		return 0
	}
	return min(1, max(0, m.t/m.tEnd))
}

func (m model) View() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("⚡ gridsim - live run monitor"))
	s.WriteString("\n\n")

	conn := successStyle.Render("connected")
	if !m.connected {
		conn = errorStyle.Render("disconnected")
		if m.streamErr != nil {
			conn += dimStyle.Render(" (" + m.streamErr.Error() + ")")
		}
	}
	s.WriteString(contentStyle.Render(fmt.Sprintf("Server: %s  %s   Run: %s", m.client.baseURL, conn, m.phaseLabel())))
	s.WriteString("\n\n")

	s.WriteString(contentStyle.Render(m.progress.ViewAs(m.fraction())))
	s.WriteString("\n")

	stats := fmt.Sprintf(`Time:       %.3f / %.3f s
Steps:      %d
|V| max:    %.4f pu
|V| min:    %.4f pu
Speed:      %.4f .. %.4f
Keepalives: %d`,
		m.t, m.tEnd, m.steps, m.vMax, m.vMin, m.speedMin, m.speedMax, m.keepalives)

	boxes := []string{statsBoxStyle.Render(stats)}
	if summary := m.modeSummary(); summary != "" {
		boxes = append(boxes, modesBoxStyle.Render(summary))
	}
	s.WriteString(contentStyle.Render(lipgloss.JoinHorizontal(lipgloss.Top, boxes...)))

	if m.failure != "" {
		s.WriteString("\n\n")
		s.WriteString(contentStyle.Render(errorStyle.Render("✗ " + m.failure)))
	}
	if m.message != "" {
		s.WriteString("\n\n")
		if m.messageErr {
			s.WriteString(contentStyle.Render(errorStyle.Render("✗ " + m.message)))
		} else {
			s.WriteString(contentStyle.Render(successStyle.Render("✓ " + m.message)))
		}
	}

	s.WriteString("\n")
	s.WriteString(helpStyle.Render(m.help.ShortHelpView(m.keys.ShortHelp())))
	return s.String()
}

func (m model) phaseLabel() string {
	switch m.phase {
	case phaseComplete:
		return successStyle.Render(m.phase)
	case phaseFailed:
		return errorStyle.Render(m.phase)
	default:
		return m.phase
	}
}

// modeSummary lists the electromechanical modes of the last completed run
func (m model) modeSummary() string {
	if m.result == nil || m.result.Eigenvalues == nil {
		return ""
	}
	ev := m.result.Eigenvalues

	var s strings.Builder
	fmt.Fprintf(&s, "Modes: %d   (run took %.2f s)\n", len(ev.Real), m.result.DurationSeconds)
	if len(ev.ElectromechanicalModes) == 0 {
		s.WriteString(dimStyle.Render("no electromechanical modes"))
		return s.String()
	}
	s.WriteString("EM mode     f [Hz]   ζ [%]\n")
	for _, i := range ev.ElectromechanicalModes {
		if i < 0 || i >= len(ev.Frequency) || i >= len(ev.Damping) {
			continue
		}
		fmt.Fprintf(&s, "#%-9d %7.3f  %6.2f\n", i, ev.Frequency[i], ev.Damping[i])
	}
	return strings.TrimRight(s.String(), "\n")
}

func main() {
	url := flag.String("url", envOr("GRIDSIM_URL", "http://localhost:8080"), "simulation server base URL")
	token := flag.String("token", os.Getenv("GRIDSIM_TOKEN"), "bearer token for start/stop")
	paramsFile := flag.String("params", "", "JSON file posted by the start key")
	flag.Parse()

	startBody := []byte(`{"network": "k2a"}`)
	if *paramsFile != "" {
		data, err := os.ReadFile(*paramsFile)
		if err != nil {
			log.Fatalf("Failed to read parameters: %v", err)
		}
		startBody = data
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(initialModel(ctx, newClient(*url, *token), startBody), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/koscakluka/ema-voice/core/events"
)

const (
	maxConversationLines = 12
	defaultViewWidth     = 80
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Bold(true)

	interimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Italic(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFCC00"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF4444"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262"))
)

// controller is the part of the orchestrator the view drives.
type controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	InterruptNow() error
}

type keyMap struct {
	Toggle    key.Binding
	Interrupt key.Binding
	Quit      key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Toggle: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "start/stop"),
		),
		Interrupt: key.NewBinding(
			key.WithKeys("i", " "),
			key.WithHelp("i", "interrupt"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "quit"),
		),
	}
}

type eventMsg struct{ event events.Event }

type eventsClosedMsg struct{}

type controlResultMsg struct {
	action string
	err    error
}

type model struct {
	ctx        context.Context
	controller controller
	events     <-chan events.Event
	autoStart  bool

	keys    keyMap
	spinner spinner.Model
	width   int

	turnState    string
	sessionState string
	interim      string
	pending      string
	lines        []string
	lastError    string
	fatal        bool
}

func newModel(ctx context.Context, controller controller, eventsCh <-chan events.Event, autoStart bool) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4"))

	return model{
		ctx:          ctx,
		controller:   controller,
		events:       eventsCh,
		autoStart:    autoStart,
		keys:         defaultKeyMap(),
		spinner:      s,
		width:        defaultViewWidth,
		turnState:    "idle",
		sessionState: "closed",
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.listenForEvents()}
	if m.autoStart {
		cmds = append(cmds, m.start())
	}
	return tea.Batch(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Toggle):
			if m.turnState == "idle" {
				return m, m.start()
			}
			return m, m.stop()
		case key.Matches(msg, m.keys.Interrupt):
			return m, m.interrupt()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m = m.handleEvent(msg.event)
		return m, m.listenForEvents()

	case controlResultMsg:
		if msg.err != nil {
			m.lastError = fmt.Sprintf("%s: %v", msg.action, msg.err)
			m.fatal = false
		}
	}

	return m, nil
}

func (m model) handleEvent(event events.Event) model {
	switch e := event.(type) {
	case events.TurnStateChanged:
		m.turnState = e.To
		if e.To == "listening" && m.fatal {
			m.lastError, m.fatal = "", false
		}

	case events.SessionStateChanged:
		m.sessionState = e.State

	case events.UserTranscriptInterimUpdated:
		m.interim = e.Transcript

	case events.UserTranscriptFinal:
		m.interim = ""
		m.pending = e.Buffer

	case events.TurnSubmitted:
		m.pending = ""
		m = m.appendLine("you: " + e.Text)

	case events.AssistantPlaybackStarted:
		m = m.appendLine("assistant is speaking")

	case events.TurnBargeIn:
		m = m.appendLine(fmt.Sprintf("interrupted the assistant, %d segments dropped", e.DroppedSegments))

	case events.TurnCompleted:
		m = m.appendLine("assistant finished")

	case events.UserInterruptionNeeded:
		m = m.appendLine("long pause")

	case events.EngineError:
		m.lastError = e.Err.Error()
		m.fatal = e.Fatal
	}
	return m
}

func (m model) appendLine(line string) model {
	lines := append(m.lines, line)
	if len(lines) > maxConversationLines {
		lines = lines[len(lines)-maxConversationLines:]
	}
	m.lines = lines
	return m
}

func (m model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("ema voice"))
	b.WriteString("\n\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n\n")
	b.WriteString(boxStyle.Render(m.renderConversation()))
	b.WriteString("\n")

	if m.lastError != "" {
		style := warningStyle
		if m.fatal {
			style = errorStyle
		}
		b.WriteString(style.Render(m.wrap("⚠ " + m.lastError)))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render(m.renderHelp()))
	return b.String()
}

func (m model) renderStatus() string {
	turn := statusStyle.Render("Turn: ") + activeStyle.Render(m.turnState)
	if m.turnState == "awaiting-response" {
		turn = m.spinner.View() + " " + activeStyle.Render(m.turnState)
	}
	session := statusStyle.Render("Session: " + m.sessionState)
	return turn + "  │  " + session
}

func (m model) renderConversation() string {
	var lines []string
	for _, line := range m.lines {
		lines = append(lines, m.wrap(line))
	}

	heard := strings.TrimSpace(strings.Join([]string{m.pending, m.interim}, " "))
	if heard != "" {
		lines = append(lines, interimStyle.Render(m.wrap("… "+heard)))
	}
	if len(lines) == 0 {
		return statusStyle.Render("nothing said yet")
	}
	return strings.Join(lines, "\n")
}

func (m model) renderHelp() string {
	var parts []string
	for _, binding := range []key.Binding{m.keys.Toggle, m.keys.Interrupt, m.keys.Quit} {
		help := binding.Help()
		parts = append(parts, help.Key+" "+help.Desc)
	}
	return strings.Join(parts, " • ")
}

func (m model) wrap(text string) string {
	// Border and padding take four columns.
	width := m.width - 4
	if width <= 0 {
		return text
	}
	return wordwrap.String(text, width)
}

func (m model) listenForEvents() tea.Cmd {
	return func() tea.Msg {
		event, ok := <-m.events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg{event: event}
	}
}

func (m model) start() tea.Cmd {
	return func() tea.Msg {
		return controlResultMsg{action: "start", err: m.controller.Start(m.ctx)}
	}
}

func (m model) stop() tea.Cmd {
	return func() tea.Msg {
		return controlResultMsg{action: "stop", err: m.controller.Stop(m.ctx)}
	}
}

func (m model) interrupt() tea.Cmd {
	return func() tea.Msg {
		return controlResultMsg{action: "interrupt", err: m.controller.InterruptNow()}
	}
}

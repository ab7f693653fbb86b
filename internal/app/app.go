// Package app is the live terminal view behind `nowplaying watch`.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/np-widget/backend/internal/client"
)

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.WSClient
	ctx    context.Context
	cancel context.CancelFunc
	keys   KeyMap

	mirror     *client.Mirror
	priorities []string
	now        func() time.Time

	connected bool
	frames    int
	lastErr   error
	retryIn   time.Duration
	width     int
}

func New(ws *client.WSClient, priorities []string) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		ws:         ws,
		ctx:        ctx,
		cancel:     cancel,
		keys:       DefaultKeyMap(),
		mirror:     client.NewMirror(),
		priorities: priorities,
		now:        time.Now,
	}
}

func (m Model) Init() tea.Cmd {
	return m.ws.Connect(m.ctx)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.cancel()
			m.ws.Close()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Reconnect):
			// the pending read fails and takes the reconnect path
			m.ws.Close()
		}
		return m, nil

	case client.ConnectedMsg:
		m.connected = true
		m.lastErr = nil
		m.retryIn = 0
		m.mirror.Reset()
		return m, m.ws.ReadFrame()

	case client.DisconnectedMsg:
		m.connected = false
		m.lastErr = msg.Err
		m.retryIn = msg.Retry
		if m.ctx.Err() != nil {
			return m, nil
		}
		return m, m.ws.Reconnect(m.ctx, msg.Retry)

	case client.FrameMsg:
		m.frames++
		if err := m.mirror.Apply(msg.Frame); err != nil {
			m.lastErr = err
		} else if m.mirror.Synced() && errors.Is(m.lastErr, client.ErrSequenceGap) {
			m.lastErr = nil
		}
		return m, m.ws.ReadFrame()
	}
	return m, nil
}

func (m Model) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.statusLine(),
		"",
		RenderSessions(m.mirror.Records(m.priorities), m.now()),
		"",
		m.footer(),
	)
}

func (m Model) statusLine() string {
	title := headerStyle.Render("nowplaying")
	var conn string
	switch {
	case m.connected && m.mirror.Synced():
		conn = playingStyle.Render("● live")
	case m.connected:
		conn = pausedStyle.Render("● waiting for snapshot")
	case m.retryIn > 0:
		conn = warnStyle.Render(fmt.Sprintf("○ disconnected, retry in %s", m.retryIn))
	default:
		conn = dimStyle.Render("○ connecting")
	}
	stats := dimStyle.Render(fmt.Sprintf("sessions %d  seq %d  frames %d", m.mirror.Len(), m.mirror.Seq(), m.frames))
	return title + "  " + conn + "  " + stats
}

func (m Model) footer() string {
	help := dimStyle.Render("r:reconnect  q:quit")
	if m.lastErr == nil {
		return help
	}
	return lipgloss.JoinVertical(lipgloss.Left, warnStyle.Render(m.lastErr.Error()), help)
}

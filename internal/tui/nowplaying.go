// SPDX-License-Identifier: MIT

// Package tui draws the terminal views: the now-playing screen and the
// device browser.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tunetable/internal/engine"
	"tunetable/internal/nowplaying"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

const retryTimeout = 10 * time.Second

// ErrUnsupported is returned by Feed.Send for values it cannot show.
var ErrUnsupported = errors.New("unsupported ui update")

// Feed is a UI sink that hands snapshots to the now-playing model. Send
// never blocks; when the model falls behind, the oldest pending snapshot
// is replaced.
type Feed struct {
	ch chan nowplaying.Snapshot
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{ch: make(chan nowplaying.Snapshot, 8)}
}

// Send queues a nowplaying.Snapshot.
func (f *Feed) Send(data any) error {
	snap, ok := data.(nowplaying.Snapshot)
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnsupported, data)
	}
	for {
		select {
		case f.ch <- snap:
			return nil
		default:
		}
		select {
		case <-f.ch:
		default:
		}
	}
}

type snapshotMsg nowplaying.Snapshot

type alertMsg engine.Alert

type retryDoneMsg struct {
	err error
}

type tickMsg time.Time

// Model is the now-playing screen.
type Model struct {
	snap     nowplaying.Snapshot
	alert    *engine.Alert
	retrying bool

	feed   <-chan nowplaying.Snapshot
	alerts <-chan engine.Alert
	retry  func(context.Context) error
	now    func() time.Time

	spinner spinner.Model
	help    help.Model
	width   int
}

// NewModel returns the now-playing model. retry runs the engine restart
// when the user presses r on an alert.
func NewModel(feed *Feed, alerts <-chan engine.Alert, retry func(context.Context) error) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = highlightStyle
	return Model{
		feed:    feed.ch,
		alerts:  alerts,
		retry:   retry,
		now:     time.Now,
		spinner: s,
		help:    help.New(),
	}
}

func waitForSnapshot(ch <-chan nowplaying.Snapshot) tea.Cmd {
	return func() tea.Msg {
		return snapshotMsg(<-ch)
	}
}

func waitForAlert(ch <-chan engine.Alert) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		a, ok := <-ch
		if !ok {
			return nil
		}
		return alertMsg(a)
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForSnapshot(m.feed), waitForAlert(m.alerts), m.spinner.Tick, tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case snapshotMsg:
		m.snap = nowplaying.Snapshot(msg)
		return m, waitForSnapshot(m.feed)

	case alertMsg:
		a := engine.Alert(msg)
		m.alert = &a
		return m, waitForAlert(m.alerts)

	case retryDoneMsg:
		m.retrying = false
		if msg.err == nil {
			m.alert = nil
		}
		// A failed retry raises a fresh alert through the alert channel.

	case tickMsg:
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, keys.Retry):
			if m.alert == nil || !m.alert.Retryable || m.retrying || m.retry == nil {
				return m, nil
			}
			m.retrying = true
			retry := m.retry
			return m, func() tea.Msg {
				ctx, cancel := context.WithTimeout(context.Background(), retryTimeout)
				defer cancel()
				return retryDoneMsg{err: retry(ctx)}
			}
		}
	}
	return m, nil
}

func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Now Playing"))
	sb.WriteString("\n\n")

	switch item := m.snap.Item; {
	case item != nil:
		sb.WriteString(highlightStyle.Render(orUnknown(item.Title)))
		sb.WriteString("\n")
		sb.WriteString(infoStyle.Render(orUnknown(item.Artist)))
		sb.WriteString("\n")
		if pos := m.snap.Position(m.now()); pos > 0 {
			sb.WriteString(dimStyle.Render(formatPosition(pos)))
			sb.WriteString("\n")
		}
		if item.Artwork.URL != "" {
			sb.WriteString(dimStyle.Render(item.Artwork.URL))
			sb.WriteString("\n")
		}
	case m.snap.Silence:
		sb.WriteString(dimStyle.Render("Silence"))
		sb.WriteString("\n")
	default:
		sb.WriteString(m.spinner.View() + " Listening...")
		sb.WriteString("\n")
	}

	if m.alert != nil {
		body := alertTitleStyle.Render(m.alert.Title) + "\n" + m.alert.Message
		if m.retrying {
			body += "\n" + dimStyle.Render("Retrying...")
		}
		sb.WriteString("\n")
		sb.WriteString(alertStyle.Render(body))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(m.help.View(keys))
	return sb.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// formatPosition renders d as m:ss.
func formatPosition(d time.Duration) string {
	d = d.Truncate(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// Run draws the now-playing screen until the user quits or ctx is done.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"webrtc_mobile/conference/internal/conference"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

const refreshInterval = 250 * time.Millisecond

// Controller is what the panel drives. *conference.Orchestrator implements it.
type Controller interface {
	ToggleMute()
	ToggleMuteVideo()
	SwitchCamera() error
	Snapshot() conference.Status
}

type keyMap struct {
	Mute   key.Binding
	Video  key.Binding
	Camera key.Binding
	Quit   key.Binding
}

var keys = keyMap{
	Mute:   key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "mute")),
	Video:  key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "video")),
	Camera: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "camera")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "leave")),
}

type tickMsg time.Time

// Model is the conference control panel.
type Model struct {
	ctrl     Controller
	spinner  spinner.Model
	status   conference.Status
	err      error
	quitting bool
}

// NewModel creates a panel for ctrl.
func NewModel(ctrl Controller) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return Model{
		ctrl:    ctrl,
		spinner: s,
		status:  ctrl.Snapshot(),
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Mute):
			m.ctrl.ToggleMute()
		case key.Matches(msg, keys.Video):
			m.ctrl.ToggleMuteVideo()
		case key.Matches(msg, keys.Camera):
			m.err = m.ctrl.SwitchCamera()
		}
		m.status = m.ctrl.Snapshot()
		return m, nil

	case tickMsg:
		m.status = m.ctrl.Snapshot()
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("%s %s", IconRoom, m.status.Room)))
	b.WriteString("\n")

	if !m.status.Ready {
		b.WriteString(fmt.Sprintf("%s joining...\n", m.spinner.View()))
		b.WriteString("\n" + MutedStyle.Render("q leave"))
		return b.String()
	}

	media := m.status.Media
	b.WriteString(LabelStyle.Render("audio") + onOff(!media.AudioMuted) + "\n")
	b.WriteString(LabelStyle.Render("video") + onOff(!media.VideoMuted) + "\n")
	b.WriteString(LabelStyle.Render("camera") + fmt.Sprintf("%d", media.VideoDevice) + "\n")

	var peers strings.Builder
	if len(m.status.Peers) == 0 {
		peers.WriteString(MutedStyle.Render("waiting for peers"))
	}
	for i, p := range m.status.Peers {
		if i > 0 {
			peers.WriteString("\n")
		}
		peers.WriteString(fmt.Sprintf("%s %-36s %s", IconPeer, p.ID, stateStyle(p.State).Render(p.State.String())))
	}
	b.WriteString(BoxStyle.Render(peers.String()))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString(ErrorStyle.Render(m.err.Error()) + "\n")
	}

	var help []string
	for _, k := range []key.Binding{keys.Mute, keys.Video, keys.Camera, keys.Quit} {
		h := k.Help()
		help = append(help, h.Key+" "+h.Desc)
	}
	b.WriteString("\n" + MutedStyle.Render(strings.Join(help, " • ")))
	return b.String()
}

func onOff(on bool) string {
	if on {
		return SuccessStyle.Render("on")
	}
	return WarningStyle.Render("muted")
}

// Run shows the panel until the user quits or ctx is done.
func Run(ctx context.Context, ctrl Controller) error {
	p := tea.NewProgram(NewModel(ctrl), tea.WithContext(ctx))
	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

package ui

import (
	"errors"
	"strings"
	"testing"

	"webrtc_mobile/conference/internal/conference"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"
)

// fakeController records the commands issued by the panel.
type fakeController struct {
	calls     []string
	status    conference.Status
	cameraErr error
}

func (f *fakeController) ToggleMute() {
	f.calls = append(f.calls, "mute")
	f.status.Media.AudioMuted = !f.status.Media.AudioMuted
}

func (f *fakeController) ToggleMuteVideo() {
	f.calls = append(f.calls, "video")
	f.status.Media.VideoMuted = !f.status.Media.VideoMuted
}

func (f *fakeController) SwitchCamera() error {
	f.calls = append(f.calls, "camera")
	return f.cameraErr
}

func (f *fakeController) Snapshot() conference.Status { return f.status }

func keyPress(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestModel_Keys(t *testing.T) {
	ctrl := &fakeController{status: conference.Status{Room: "lobby", Ready: true}}
	var m tea.Model = NewModel(ctrl)

	for _, r := range "mvcx" {
		m, _ = m.Update(keyPress(r))
	}

	if diff := cmp.Diff([]string{"mute", "video", "camera"}, ctrl.calls); diff != "" {
		t.Errorf("calls (-want +got):\n%s", diff)
	}
	view := m.View()
	if !strings.Contains(view, "muted") {
		t.Errorf("expected muted state in view:\n%s", view)
	}
}

func TestModel_Quit(t *testing.T) {
	ctrl := &fakeController{}
	m, cmd := NewModel(ctrl).Update(keyPress('q'))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if m.View() != "" {
		t.Error("expected empty view after quit")
	}
	if len(ctrl.calls) != 0 {
		t.Errorf("unexpected calls %v", ctrl.calls)
	}
}

func TestModel_CameraError(t *testing.T) {
	ctrl := &fakeController{status: conference.Status{Ready: true}, cameraErr: errors.New("no camera")}
	m, _ := NewModel(ctrl).Update(keyPress('c'))
	if !strings.Contains(m.View(), "no camera") {
		t.Errorf("expected camera error in view:\n%s", m.View())
	}
}

func TestModel_TickRefreshesPeers(t *testing.T) {
	ctrl := &fakeController{status: conference.Status{Room: "lobby", Ready: true}}
	m := NewModel(ctrl)
	if !strings.Contains(m.View(), "waiting for peers") {
		t.Errorf("expected empty peer list:\n%s", m.View())
	}

	ctrl.status.Peers = []conference.PeerStatus{{ID: "bob", State: conference.Connected}}
	updated, cmd := m.Update(tickMsg{})
	if cmd == nil {
		t.Error("expected the next tick to be scheduled")
	}
	view := updated.View()
	if !strings.Contains(view, "bob") || !strings.Contains(view, conference.Connected.String()) {
		t.Errorf("expected bob in view:\n%s", view)
	}
}

func TestModel_NotReady(t *testing.T) {
	m := NewModel(&fakeController{status: conference.Status{Room: "lobby"}})
	if !strings.Contains(m.View(), "joining") {
		t.Errorf("expected joining view:\n%s", m.View())
	}
}

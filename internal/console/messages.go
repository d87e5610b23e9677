package console

import (
	tea "github.com/charmbracelet/bubbletea"
)

// sessionUpdateMsg signals that the controller's transcript or connection
// state changed. It carries no payload; the handler re-reads the snapshot.
type sessionUpdateMsg struct{}

// submitResultMsg delivers the outcome of an asynchronous Submit.
type submitResultMsg struct {
	err error
}

// listenForUpdate blocks until the controller signals a change, then
// delivers it through the bubbletea loop. The handler re-issues it, so
// exactly one listener is pending at any time.
func listenForUpdate(updates <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		if _, ok := <-updates; !ok {
			return nil
		}
		return sessionUpdateMsg{}
	}
}

package app

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the watch view key bindings.
type KeyMap struct {
	Quit      key.Binding
	Reconnect key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Reconnect: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "reconnect"),
		),
	}
}

package models

import (
	"strings"

	"github.com/allbin/go-updi"
	"github.com/allbin/go-updi/internal/tui/components"
	"github.com/allbin/go-updi/internal/tui/keys"
	"github.com/allbin/go-updi/internal/tui/styles"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// PickerModel lets the user choose the port a UPDI adapter is attached to
type PickerModel struct {
	table *components.PortTable
	keys  keys.PickerKeys
	help  help.Model

	selected string
	quit     bool
}

func NewPickerModel(ports []*updi.PortInfo) *PickerModel {
	return &PickerModel{
		table: components.NewPortTable(ports),
		keys:  keys.NewPickerKeys(),
		help:  help.New(),
	}
}

func (m *PickerModel) Init() tea.Cmd {
	return nil
}

func (m *PickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quit = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Select):
			m.selected = m.table.Selected()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			return m, nil
		}
	}
	return m, m.table.Update(msg)
}

func (m *PickerModel) View() string {
	var b strings.Builder
	b.WriteString(styles.TitleStyle.Render("upditerm: select UPDI adapter"))
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	b.WriteString("\n")
	return b.String()
}

// Selected returns the chosen port, or "" if the picker was cancelled
func (m *PickerModel) Selected() string {
	if m.quit {
		return ""
	}
	return m.selected
}

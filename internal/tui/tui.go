// Package tui is the terminal switchboard: one on/off switch per service,
// with the service's preferences alongside. Preferences can only be edited
// while the service is off.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/benaskins/icnswitch/internal/controller"
	"github.com/benaskins/icnswitch/internal/daemon"
)

// RefreshInterval is how often the switchboard polls the daemon.
const RefreshInterval = 2 * time.Second

// Backend is what the switchboard needs from the daemon. *api.Client
// implements it.
type Backend interface {
	Services(ctx context.Context) ([]daemon.ServiceState, error)
	Start(ctx context.Context, name string) (daemon.ServiceState, error)
	Stop(ctx context.Context, name string) (daemon.ServiceState, error)
	Prefs(ctx context.Context, name string) (map[string]string, error)
	SetPref(ctx context.Context, name, key, value string) error
}

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Toggle  key.Binding
	Focus   key.Binding
	Edit    key.Binding
	Refresh key.Binding
	Cancel  key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Focus, k.Edit, k.Refresh, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down, k.Toggle, k.Focus}, {k.Edit, k.Refresh, k.Cancel, k.Quit}}
}

var keys = keyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Toggle:  key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "on/off")),
	Focus:   key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "services/prefs")),
	Edit:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "edit pref")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Cancel:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	onStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	offStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	busyStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	paneStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type pane int

const (
	paneServices pane = iota
	panePrefs
)

type servicesMsg struct {
	states []daemon.ServiceState
	err    error
}

type toggledMsg struct {
	name  string
	state daemon.ServiceState
	err   error
}

type prefsMsg struct {
	name  string
	prefs map[string]string
	err   error
}

type prefSavedMsg struct {
	name string
	err  error
}

type tickMsg time.Time

// Model is the switchboard's bubbletea model.
type Model struct {
	backend Backend
	timeout time.Duration

	services []daemon.ServiceState
	cursor   int
	focus    pane

	prefs      map[string]string
	prefKeys   []string
	prefCursor int
	editing    bool
	input      textinput.Model

	busy    map[string]bool
	spinner spinner.Model
	help    help.Model
	status  string
	err     error // last action error, kept until the next action
	listErr error // last failed refresh, cleared by a good one
}

// New returns a switchboard backed by b.
func New(b Backend) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	ti := textinput.New()
	ti.Prompt = "= "
	return Model{
		backend: b,
		timeout: 30 * time.Second,
		busy:    make(map[string]bool),
		spinner: sp,
		input:   ti,
		help:    help.New(),
	}
}

// Run starts the switchboard full screen and blocks until the user quits.
func Run(b Backend) error {
	_, err := tea.NewProgram(New(b), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh(), m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), m.timeout)
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		states, err := m.backend.Services(ctx)
		return servicesMsg{states: states, err: err}
	}
}

func (m Model) loadPrefs(name string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		p, err := m.backend.Prefs(ctx, name)
		return prefsMsg{name: name, prefs: p, err: err}
	}
}

func (m Model) toggle(st daemon.ServiceState) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		var (
			next daemon.ServiceState
			err  error
		)
		if st.State == controller.StateStopped {
			next, err = m.backend.Start(ctx, st.Name)
		} else {
			next, err = m.backend.Stop(ctx, st.Name)
		}
		return toggledMsg{name: st.Name, state: next, err: err}
	}
}

func (m Model) savePref(name, key, value string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		return prefSavedMsg{name: name, err: m.backend.SetPref(ctx, name, key, value)}
	}
}

func (m Model) selected() (daemon.ServiceState, bool) {
	if m.cursor < 0 || m.cursor >= len(m.services) {
		return daemon.ServiceState{}, false
	}
	return m.services[m.cursor], true
}

// locked reports whether the selected service's preferences are read-only.
func (m Model) locked() bool {
	st, ok := m.selected()
	return !ok || st.State != controller.StateStopped || m.busy[st.Name]
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.editing {
			return m.updateEditing(msg)
		}
		return m.updateKeys(msg)

	case servicesMsg:
		m.listErr = msg.err
		if msg.err != nil {
			return m, nil
		}
		prev, _ := m.selected()
		m.services = msg.states
		if m.cursor >= len(m.services) {
			m.cursor = max(len(m.services)-1, 0)
		}
		if cur, ok := m.selected(); ok && (cur.Name != prev.Name || m.prefs == nil) {
			return m, m.loadPrefs(cur.Name)
		}
		return m, nil

	case toggledMsg:
		delete(m.busy, msg.name)
		if msg.err != nil {
			m.err = fmt.Errorf("%s: %w", msg.name, msg.err)
		} else {
			m.err = nil
			m.status = fmt.Sprintf("%s is %s", msg.name, msg.state.State)
			for i := range m.services {
				if m.services[i].Name == msg.name {
					m.services[i] = msg.state
				}
			}
		}
		return m, m.refresh()

	case prefsMsg:
		if cur, ok := m.selected(); !ok || cur.Name != msg.name {
			return m, nil
		}
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.prefs = msg.prefs
		m.prefKeys = nil
		for k := range msg.prefs {
			m.prefKeys = append(m.prefKeys, k)
		}
		if cur, ok := m.selected(); ok {
			for _, k := range cur.Keys {
				if _, set := msg.prefs[k]; !set {
					m.prefKeys = append(m.prefKeys, k)
				}
			}
		}
		sort.Strings(m.prefKeys)
		if m.prefCursor >= len(m.prefKeys) {
			m.prefCursor = max(len(m.prefKeys)-1, 0)
		}
		return m, nil

	case prefSavedMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.err = nil
			m.status = "saved, applies at next start"
		}
		return m, m.loadPrefs(msg.name)

	case tickMsg:
		return m, tea.Batch(m.refresh(), tick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, keys.Refresh):
		m.status = "refreshing"
		return m, m.refresh()

	case key.Matches(msg, keys.Focus):
		if m.focus == paneServices {
			m.focus = panePrefs
		} else {
			m.focus = paneServices
		}
		return m, nil

	case key.Matches(msg, keys.Up):
		if m.focus == panePrefs {
			if m.prefCursor > 0 {
				m.prefCursor--
			}
			return m, nil
		}
		if m.cursor > 0 {
			m.cursor--
			m.prefs, m.prefCursor = nil, 0
			return m, m.loadPrefs(m.services[m.cursor].Name)
		}
		return m, nil

	case key.Matches(msg, keys.Down):
		if m.focus == panePrefs {
			if m.prefCursor < len(m.prefKeys)-1 {
				m.prefCursor++
			}
			return m, nil
		}
		if m.cursor < len(m.services)-1 {
			m.cursor++
			m.prefs, m.prefCursor = nil, 0
			return m, m.loadPrefs(m.services[m.cursor].Name)
		}
		return m, nil

	case key.Matches(msg, keys.Toggle):
		st, ok := m.selected()
		if !ok || m.busy[st.Name] {
			return m, nil
		}
		if st.State != controller.StateStopped && st.State != controller.StateRunning {
			return m, nil
		}
		m.busy[st.Name] = true
		m.status = ""
		return m, m.toggle(st)

	case key.Matches(msg, keys.Edit):
		if m.focus != panePrefs || len(m.prefKeys) == 0 {
			return m, nil
		}
		if m.locked() {
			m.err = fmt.Errorf("turn the service off to edit its preferences")
			return m, nil
		}
		k := m.prefKeys[m.prefCursor]
		m.editing = true
		m.input.SetValue(m.prefs[k])
		return m, m.input.Focus()
	}
	return m, nil
}

func (m Model) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Cancel):
		m.editing = false
		m.input.Blur()
		return m, nil
	case msg.Type == tea.KeyEnter:
		m.editing = false
		m.input.Blur()
		st, ok := m.selected()
		if !ok || m.locked() {
			return m, nil
		}
		return m, m.savePref(st.Name, m.prefKeys[m.prefCursor], m.input.Value())
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("icnswitch"))
	b.WriteString("\n\n")

	left := m.servicesView()
	right := m.prefsView()
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, paneStyle.Render(left), paneStyle.Render(right)))
	b.WriteString("\n")

	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render(m.err.Error()))
	case m.listErr != nil:
		b.WriteString(errorStyle.Render(m.listErr.Error()))
	case m.status != "":
		b.WriteString(mutedStyle.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(keys))
	return b.String()
}

func (m Model) servicesView() string {
	if len(m.services) == 0 {
		return mutedStyle.Render("no services")
	}
	var lines []string
	for i, st := range m.services {
		var sw string
		switch {
		case m.busy[st.Name]:
			sw = busyStyle.Render(m.spinner.View() + " ...")
		case st.State == controller.StateRunning:
			sw = onStyle.Render("[ ON]")
		case st.State == controller.StateStopped:
			sw = offStyle.Render("[OFF]")
		default:
			sw = busyStyle.Render(string(st.State))
		}

		name := st.Name
		if i == m.cursor {
			name = selectedStyle.Render("> " + name)
		} else {
			name = "  " + name
		}
		line := fmt.Sprintf("%s %s %s", sw, name, mutedStyle.Render(string(st.Kind)))
		if st.Health != "" && st.State == controller.StateRunning {
			line += mutedStyle.Render(" (" + string(st.Health) + ")")
		}
		if st.LastError != "" && st.State == controller.StateStopped {
			line += "\n      " + errorStyle.Render(st.LastError)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m Model) prefsView() string {
	st, ok := m.selected()
	if !ok {
		return ""
	}
	header := "preferences"
	if m.locked() {
		header += mutedStyle.Render(" (read-only while on)")
	}
	lines := []string{header}
	if m.prefs == nil {
		lines = append(lines, mutedStyle.Render("loading"))
		return strings.Join(lines, "\n")
	}
	if len(m.prefKeys) == 0 {
		lines = append(lines, mutedStyle.Render(st.Name+" takes no preferences"))
	}
	for i, k := range m.prefKeys {
		v, set := m.prefs[k]
		if !set {
			v = errorStyle.Render("unset")
		}
		line := fmt.Sprintf("%s: %s", k, v)
		if m.focus == panePrefs && i == m.prefCursor {
			if m.editing {
				line = k + " " + m.input.View()
			} else {
				line = selectedStyle.Render("> ") + line
			}
		} else {
			line = "  " + line
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

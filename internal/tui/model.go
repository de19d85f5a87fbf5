// Package tui is the interactive terminal screen over the synchronized todo
// list.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"todostarter/internal/todo"
)

const retryHint = "Something went wrong. Press r to retry."

// Lister is the part of *todo.List the screen drives.
type Lister interface {
	View() todo.View
	Todos(ctx context.Context) ([]todo.Todo, error)
	Invalidate()
	Add(ctx context.Context, in todo.Input) (todo.Todo, error)
	Update(ctx context.Context, id string, in todo.UpdateInput) (todo.Todo, error)
	Delete(ctx context.Context, id string) error
	DeleteCompleted(ctx context.Context) (int, error)
	Toggle(ctx context.Context, id string, completed bool) (todo.Todo, error)
}

// ChangedMsg tells the model the list view changed outside of Update.
type ChangedMsg struct{}

type loadedMsg struct{}

type doneMsg struct {
	status string
	err    error
}

type mode int

const (
	browsing mode = iota
	adding
	editing
)

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Toggle  key.Binding
	Add     key.Binding
	Edit    key.Binding
	Delete  key.Binding
	Clear   key.Binding
	Refresh key.Binding
	Help    key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Add, k.Edit, k.Delete, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Toggle},
		{k.Add, k.Edit, k.Delete, k.Clear},
		{k.Refresh, k.Help, k.Quit},
	}
}

func defaultKeys() keyMap {
	return keyMap{
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Toggle:  key.NewBinding(key.WithKeys(" ", "x"), key.WithHelp("space", "toggle")),
		Add:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add")),
		Edit:    key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit")),
		Delete:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
		Clear:   key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear done")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

type Model struct {
	ctx    context.Context
	list   Lister
	keys   keyMap
	help   help.Model
	input  textinput.Model
	mode   mode
	editID string
	cursor int
	view   todo.View
	status string
	err    error
}

func New(ctx context.Context, list Lister) Model {
	input := textinput.New()
	input.Placeholder = "What needs to be done?"
	input.Width = 48
	return Model{
		ctx:   ctx,
		list:  list,
		keys:  defaultKeys(),
		help:  help.New(),
		input: input,
		view:  list.View(),
	}
}

func (m Model) Init() tea.Cmd {
	return m.load()
}

func (m Model) load() tea.Cmd {
	list, ctx := m.list, m.ctx
	return func() tea.Msg {
		_, _ = list.Todos(ctx)
		return loadedMsg{}
	}
}

func (m Model) run(status string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return doneMsg{status: status, err: fn(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case ChangedMsg:
		m.refresh()
		if m.view.Stale && !m.view.Loading && m.view.Err == nil {
			return m, m.load()
		}
		return m, nil

	case loadedMsg:
		m.refresh()
		return m, nil

	case doneMsg:
		m.refresh()
		if msg.err != nil {
			m.err = msg.err
			m.status = ""
			return m, m.load()
		}
		m.err = nil
		m.status = msg.status
		return m, m.load()

	case tea.KeyMsg:
		if m.mode != browsing {
			return m.updateInput(msg)
		}
		return m.updateBrowsing(msg)
	}
	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.mode = browsing
		m.input.Blur()
		m.input.Reset()
		return m, nil
	case "enter":
		title := m.input.Value()
		list := m.list
		var cmd tea.Cmd
		if m.mode == adding {
			cmd = m.run("Added.", func(ctx context.Context) error {
				_, err := list.Add(ctx, todo.Input{Title: title})
				return err
			})
		} else {
			id := m.editID
			cmd = m.run("Saved.", func(ctx context.Context) error {
				_, err := list.Update(ctx, id, todo.UpdateInput{Title: &title})
				return err
			})
		}
		m.mode = browsing
		m.editID = ""
		m.input.Blur()
		m.input.Reset()
		return m, cmd
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) updateBrowsing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	list := m.list
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.view.Todos)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, m.keys.Refresh):
		m.err = nil
		m.status = ""
		list.Invalidate()
		m.refresh()
		return m, m.load()
	case key.Matches(msg, m.keys.Add):
		m.mode = adding
		m.input.Reset()
		cmd := m.input.Focus()
		return m, cmd
	case key.Matches(msg, m.keys.Clear):
		return m, m.run("", func(ctx context.Context) error {
			_, err := list.DeleteCompleted(ctx)
			return err
		})
	}

	selected, ok := m.selected()
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(msg, m.keys.Toggle):
		return m, m.run("", func(ctx context.Context) error {
			_, err := list.Toggle(ctx, selected.ID, !selected.Completed)
			return err
		})
	case key.Matches(msg, m.keys.Edit):
		m.mode = editing
		m.editID = selected.ID
		m.input.SetValue(selected.Title)
		m.input.CursorEnd()
		cmd := m.input.Focus()
		return m, cmd
	case key.Matches(msg, m.keys.Delete):
		return m, m.run("Deleted.", func(ctx context.Context) error {
			return list.Delete(ctx, selected.ID)
		})
	}
	return m, nil
}

func (m *Model) refresh() {
	m.view = m.list.View()
	if m.cursor >= len(m.view.Todos) {
		m.cursor = len(m.view.Todos) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) selected() (todo.Todo, bool) {
	if m.cursor < 0 || m.cursor >= len(m.view.Todos) {
		return todo.Todo{}, false
	}
	return m.view.Todos[m.cursor], true
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Todos"))
	if m.view.Loaded {
		b.WriteString(" " + mutedStyle.Render(Summary(m.view.Todos)))
	}
	if m.view.Loading {
		b.WriteString(" " + mutedStyle.Render("syncing…"))
	}
	b.WriteString("\n\n")

	switch {
	case !m.view.Loaded && m.view.Err != nil:
		b.WriteString(errorStyle.Render("Couldn't load your todos.") + " " + mutedStyle.Render("Press r to retry.") + "\n")
	case !m.view.Loaded:
		b.WriteString(mutedStyle.Render("Loading…") + "\n")
	case len(m.view.Todos) == 0:
		b.WriteString(mutedStyle.Render("Nothing to do. Press a to add a todo.") + "\n")
	default:
		for i, item := range m.view.Todos {
			b.WriteString(m.renderRow(i, item) + "\n")
		}
	}

	b.WriteString("\n")
	switch m.mode {
	case adding:
		b.WriteString(accentStyle.Render("New: ") + m.input.View() + "\n")
	case editing:
		b.WriteString(accentStyle.Render("Edit: ") + m.input.View() + "\n")
	}
	if line := m.statusLine(); line != "" {
		b.WriteString(line + "\n")
	}
	b.WriteString(helpStyle.Render(m.help.View(m.keys)))
	return b.String()
}

func (m Model) renderRow(i int, item todo.Todo) string {
	if i != m.cursor {
		return "  " + RenderTodo(item)
	}
	box := boxUnchecked
	if item.Completed {
		box = boxChecked
	}
	return accentStyle.Render("›") + " " + selectedStyle.Render(box+" "+item.Title)
}

func (m Model) statusLine() string {
	if m.err != nil {
		return errorStyle.Render(describe(m.err))
	}
	if m.view.Err != nil && m.view.Loaded {
		return errorStyle.Render(describe(m.view.Err))
	}
	if m.status != "" {
		return successStyle.Render(m.status)
	}
	return ""
}

// describe shows validation problems as they are and hides everything else
// behind a retry prompt.
func describe(err error) string {
	var verr *todo.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	if errors.Is(err, todo.ErrUnauthenticated) {
		return "You are signed out. Run `todo login` first."
	}
	return retryHint
}

// Subscriber is a Lister that announces changes.
type Subscriber interface {
	Lister
	Subscribe(fn func(todo.View)) (unsubscribe func())
}

// Run starts the full-screen program and blocks until the user quits.
func Run(ctx context.Context, list Subscriber, opts ...tea.ProgramOption) error {
	p := tea.NewProgram(New(ctx, list), append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)...)
	unsubscribe := list.Subscribe(func(todo.View) {
		// Listeners may fire from inside Update; Send must not block it.
		go p.Send(ChangedMsg{})
	})
	defer unsubscribe()
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("run todo screen: %w", err)
	}
	return nil
}

package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"todostarter/internal/todo"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	accentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	mutedStyle   = lipgloss.NewStyle().Faint(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	selectedStyle = lipgloss.NewStyle().Bold(true).Reverse(true)
	doneStyle     = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	helpStyle     = lipgloss.NewStyle().Faint(true)

	boxChecked   = "☑"
	boxUnchecked = "☐"
)

// OK prints a success line.
func OK(w io.Writer, msg string) {
	fmt.Fprintln(w, successStyle.Render("✔ "+msg))
}

// Fail prints an error line.
func Fail(w io.Writer, msg string) {
	fmt.Fprintln(w, errorStyle.Render("✖ "+msg))
}

// Panel prints lines inside a rounded border.
func Panel(w io.Writer, lines []string) {
	border := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("8")).
		Padding(0, 1)
	fmt.Fprintln(w, border.Render(strings.Join(lines, "\n")))
}

// RenderTodo formats one row the way the list screen does, without a cursor.
func RenderTodo(item todo.Todo) string {
	if item.Completed {
		return successStyle.Render(boxChecked) + " " + doneStyle.Render(item.Title)
	}
	return pendingStyle.Render(boxUnchecked) + " " + item.Title
}

// Summary is the "n of m done" header used above a list.
func Summary(items []todo.Todo) string {
	done := 0
	for _, item := range items {
		if item.Completed {
			done++
		}
	}
	return fmt.Sprintf("%d of %d done", done, len(items))
}

// PrintTodos writes the list with short ids so rows can be addressed from
// the command line.
func PrintTodos(w io.Writer, items []todo.Todo) {
	if len(items) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No todos yet."))
		return
	}
	fmt.Fprintln(w, titleStyle.Render("Todos")+" "+mutedStyle.Render(Summary(items)))
	for _, item := range items {
		fmt.Fprintf(w, "%s %s\n", accentStyle.Render(ShortID(item.ID)), RenderTodo(item))
	}
}

// ShortID returns the first eight characters of id.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

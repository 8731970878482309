package ui

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ErrAborted 用户按 q / esc / ctrl+c 退出
var ErrAborted = errors.New("ui: aborted")

// Item 菜单项
type Item struct {
	Title  string
	Detail string
}

type menuModel struct {
	title    string
	items    []Item
	multi    bool
	cursor   int
	selected map[int]bool
	done     bool
	aborted  bool
	width    int
}

func newMenu(title string, items []Item, multi bool) menuModel {
	return menuModel{title: title, items: items, multi: multi, selected: map[int]bool{}}
}

func (m menuModel) Init() tea.Cmd { return nil }

func (m menuModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.aborted = true
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.items)-1 {
				m.cursor++
			}
		case "home", "g":
			m.cursor = 0
		case "end", "G":
			m.cursor = len(m.items) - 1
		case " ", "x":
			if m.multi {
				m.selected[m.cursor] = !m.selected[m.cursor]
			}
		case "a":
			if m.multi {
				all := len(m.chosen()) < len(m.items)
				for i := range m.items {
					m.selected[i] = all
				}
			}
		case "enter":
			if len(m.items) == 0 {
				return m, nil
			}
			if !m.multi || len(m.chosen()) == 0 {
				m.selected = map[int]bool{m.cursor: true}
			}
			m.done = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// chosen 选中的下标（升序）
func (m menuModel) chosen() []int {
	var out []int
	for i := range m.items {
		if m.selected[i] {
			out = append(out, i)
		}
	}
	return out
}

func (m menuModel) View() string {
	if m.done || m.aborted {
		return ""
	}
	cursorStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226"))
	var lines []string
	lines = append(lines, titleStyle.Render(m.title), "")
	for i, it := range m.items {
		mark := "  "
		if i == m.cursor {
			mark = cursorStyle.Render("> ")
		}
		box := ""
		if m.multi {
			box = "[ ] "
			if m.selected[i] {
				box = okStyle.Render("[x] ")
			}
		}
		line := mark + box + it.Title
		if it.Detail != "" {
			line += "  " + dimStyle.Render(it.Detail)
		}
		if m.width > 0 && lipgloss.Width(line) > m.width {
			line = truncate(line, m.width)
		}
		lines = append(lines, line)
	}
	help := "↑/↓ 移动  enter 确认  q 退出"
	if m.multi {
		help = "↑/↓ 移动  space 勾选  a 全选  enter 确认  q 退出"
	}
	lines = append(lines, "", dimStyle.Render(help))
	return strings.Join(lines, "\n")
}

// Pick 交互选择，返回选中项下标
func Pick(title string, items []Item, multi bool) ([]int, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("ui: nothing to choose")
	}
	final, err := tea.NewProgram(newMenu(title, items, multi)).Run()
	if err != nil {
		return nil, err
	}
	m := final.(menuModel)
	if m.aborted || !m.done {
		return nil, ErrAborted
	}
	return m.chosen(), nil
}

// Confirm y/N 确认
func Confirm(question string) (bool, error) {
	idx, err := Pick(question, []Item{{Title: "No"}, {Title: "Yes"}}, false)
	if err != nil {
		return false, err
	}
	return len(idx) == 1 && idx[0] == 1, nil
}

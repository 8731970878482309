// Package ui 终端输出：表格和交互菜单。
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("39")).Padding(0, 1)
)

// Table 按列宽对齐的简单表格，单元格可以带样式
type Table struct {
	Title   string
	Headers []string
	// Right 右对齐的列（金额）
	Right map[int]bool
	rows  [][]string
	foot  []string
}

// Row 追加一行
func (t *Table) Row(cells ...string) { t.rows = append(t.rows, cells) }

// Footer 表尾（合计行）
func (t *Table) Footer(cells ...string) { t.foot = cells }

// Len 行数
func (t *Table) Len() int { return len(t.rows) }

func (t *Table) widths() []int {
	w := make([]int, len(t.Headers))
	measure := func(row []string) {
		for i, c := range row {
			if i >= len(w) {
				w = append(w, 0)
			}
			if n := lipgloss.Width(c); n > w[i] {
				w[i] = n
			}
		}
	}
	measure(t.Headers)
	for _, r := range t.rows {
		measure(r)
	}
	measure(t.foot)
	return w
}

func (t *Table) line(cells []string, widths []int, style *lipgloss.Style) string {
	parts := make([]string, len(widths))
	for i := range widths {
		c := ""
		if i < len(cells) {
			c = cells[i]
		}
		if style != nil {
			c = style.Render(c)
		}
		pad := strings.Repeat(" ", widths[i]-lipgloss.Width(c))
		if t.Right[i] {
			parts[i] = pad + c
		} else {
			parts[i] = c + pad
		}
	}
	return strings.TrimRight(strings.Join(parts, "  "), " ")
}

// String 渲染
func (t *Table) String() string {
	widths := t.widths()
	total := 0
	for _, w := range widths {
		total += w + 2
	}
	if total > 2 {
		total -= 2
	}
	var lines []string
	if t.Title != "" {
		lines = append(lines, titleStyle.Render(t.Title))
	}
	lines = append(lines, t.line(t.Headers, widths, &headerStyle))
	lines = append(lines, dimStyle.Render(strings.Repeat("─", total)))
	for _, r := range t.rows {
		lines = append(lines, t.line(r, widths, nil))
	}
	if len(t.rows) == 0 {
		lines = append(lines, dimStyle.Render("(empty)"))
	}
	if len(t.foot) > 0 {
		lines = append(lines, dimStyle.Render(strings.Repeat("─", total)))
		lines = append(lines, t.line(t.foot, widths, &headerStyle))
	}
	return strings.Join(lines, "\n")
}

// Box 带边框
func Box(content string) string { return boxStyle.Render(content) }

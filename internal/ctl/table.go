package ctl

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// table collects rows and prints them with aligned columns.
type table struct {
	indent string
	head   []string
	rows   [][]string
	right  map[int]bool
}

func newTable(indent string, head ...string) *table {
	return &table{indent: indent, head: head, right: map[int]bool{}}
}

// alignRight right-aligns column col.
func (t *table) alignRight(col int) {
	t.right[col] = true
}

func (t *table) row(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) flush() {
	widths := make([]int, len(t.head))
	for i, h := range t.head {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, r := range t.rows {
		for i := range min(len(r), len(widths)) {
			widths[i] = max(widths[i], utf8.RuneCountInString(r[i]))
		}
	}

	t.print(t.head, widths, dim)
	for _, r := range t.rows {
		t.print(r, widths, "")
	}
}

func (t *table) print(cells []string, widths []int, color string) {
	parts := make([]string, len(widths))
	for i := range widths {
		var c string
		if i < len(cells) {
			c = cells[i]
		}
		pad := strings.Repeat(" ", widths[i]-utf8.RuneCountInString(c))
		if t.right[i] {
			parts[i] = pad + c
		} else {
			parts[i] = c + pad
		}
	}
	line := strings.TrimRight(strings.Join(parts, "  "), " ")
	fmt.Fprintln(out, t.indent+colorize(color, line))
}

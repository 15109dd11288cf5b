package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Options controls the text rendering.
type Options struct {
	Color  bool
	Indent int
}

const defaultIndent = 4

type styles struct {
	enabled bool
	guide   lipgloss.Style
	kind    map[string]lipgloss.Style
	zoomed  lipgloss.Style
}

func newStyles(w io.Writer, color bool) styles {
	if !color {
		return styles{}
	}
	r := lipgloss.NewRenderer(w)
	return styles{
		enabled: true,
		guide:   r.NewStyle().Foreground(lipgloss.Color("240")),
		zoomed:  r.NewStyle().Foreground(lipgloss.Color("51")).Bold(true),
		kind: map[string]lipgloss.Style{
			"transaction":             r.NewStyle().Foreground(lipgloss.Color("252")).Bold(true),
			"span":                    r.NewStyle().Foreground(lipgloss.Color("252")),
			"error":                   r.NewStyle().Foreground(lipgloss.Color("196")),
			"parent_autogroup":        r.NewStyle().Foreground(lipgloss.Color("135")),
			"sibling_autogroup":       r.NewStyle().Foreground(lipgloss.Color("135")),
			"missing_instrumentation": r.NewStyle().Foreground(lipgloss.Color("241")).Italic(true),
			"no_data":                 r.NewStyle().Foreground(lipgloss.Color("241")).Italic(true),
		},
	}
}

func (s styles) paint(style lipgloss.Style, text string) string {
	if !s.enabled {
		return text
	}
	return style.Render(text)
}

// Text writes one line per visible row of rows, with tree guides drawn from
// each row's connectors.
func Text(w io.Writer, rows []Row, opts Options) error {
	indent := opts.Indent
	if indent < 2 {
		indent = defaultIndent
	}
	st := newStyles(w, opts.Color)

	var sb strings.Builder
	for _, row := range rows {
		sb.WriteString(st.paint(st.guide, prefix(row, indent)))
		sb.WriteString(indicator(row))
		sb.WriteByte(' ')
		sb.WriteString(st.paint(st.kind[row.Kind], row.Label))
		if row.ZoomedIn {
			sb.WriteByte(' ')
			sb.WriteString(st.paint(st.zoomed, "[spans]"))
		}
		sb.WriteByte('\n')
	}

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("failed to write rendering: %w", err)
	}
	return nil
}

// prefix draws one column per ancestor level and the row's own branch.
func prefix(row Row, indent int) string {
	continuing := make(map[int]bool, len(row.Connectors))
	for _, c := range row.Connectors {
		if c < 0 {
			c = -c
		}
		continuing[c] = true
	}

	var sb strings.Builder
	for depth := 1; depth < row.Depth; depth++ {
		if continuing[depth] {
			sb.WriteString("│" + strings.Repeat(" ", indent-1))
		} else {
			sb.WriteString(strings.Repeat(" ", indent))
		}
	}
	if row.LastChild {
		sb.WriteString("└")
	} else {
		sb.WriteString("├")
	}
	sb.WriteString(strings.Repeat("─", indent-2) + " ")
	return sb.String()
}

func indicator(row Row) string {
	switch {
	case row.Expanded && row.Children > 0:
		return "▾"
	case row.Children > 0 || (row.CanFetch && !row.ZoomedIn):
		return "▸"
	default:
		return "•"
	}
}

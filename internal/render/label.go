// Package render turns the visible rows of a trace tree into text or row DTOs.
package render

import (
	"fmt"
	"time"

	"traceview/internal/tracetree"
)

// labeler builds the one-line description of a node value.
type labeler struct {
	label string
}

var _ tracetree.ValueVisitor = (*labeler)(nil)

// Label returns the display text of a node.
func Label(n *tracetree.Node) string {
	l := &labeler{}
	n.Value().Accept(l)
	return l.label
}

func (l *labeler) VisitRoot(*tracetree.Root) {
	l.label = "trace"
}

func (l *labeler) VisitTransaction(t *tracetree.Transaction) {
	l.label = fmt.Sprintf("%s - %s (%s) %s", orDash(t.Op), t.Transaction, t.ProjectSlug, seconds(t.Duration()))
}

func (l *labeler) VisitSpan(s *tracetree.Span) {
	l.label = fmt.Sprintf("%s - %s %s", orDash(s.Op), s.Description, seconds(s.Duration()))
}

func (l *labeler) VisitTraceError(e *tracetree.TraceError) {
	if e.Level != "" {
		l.label = fmt.Sprintf("%s: %s", e.Level, e.Title)
		return
	}
	l.label = "error: " + e.Title
}

func (l *labeler) VisitParentAutogroup(g *tracetree.ParentAutogroup) {
	l.label = fmt.Sprintf("Autogrouped %s (%d nested)", g.Op, g.Count)
}

func (l *labeler) VisitSiblingAutogroup(g *tracetree.SiblingAutogroup) {
	l.label = fmt.Sprintf("Autogrouped %s - %s (%d)", g.Op, g.Description, g.Count)
}

func (l *labeler) VisitMissingInstrumentation(m *tracetree.MissingInstrumentation) {
	l.label = "Missing instrumentation " + seconds(m.Duration())
}

func (l *labeler) VisitNoData(*tracetree.NoData) {
	l.label = "No span data"
}

// seconds formats a duration given in seconds, rounded to the microsecond.
func seconds(s float64) string {
	return time.Duration(s * float64(time.Second)).Round(time.Microsecond).String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

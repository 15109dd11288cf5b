package tracetree

import "traceview/internal/models"

// Kind identifies the variant held by a node.
type Kind int

const (
	KindRoot Kind = iota
	KindTransaction
	KindSpan
	KindTraceError
	KindParentAutogroup
	KindSiblingAutogroup
	KindMissingInstrumentation
	KindNoData
)

var kindNames = [...]string{
	KindRoot:                   "root",
	KindTransaction:            "transaction",
	KindSpan:                   "span",
	KindTraceError:             "error",
	KindParentAutogroup:        "parent_autogroup",
	KindSiblingAutogroup:       "sibling_autogroup",
	KindMissingInstrumentation: "missing_instrumentation",
	KindNoData:                 "no_data",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// Value is the closed set of things a node can represent. The unexported
// marker keeps the set closed to this package.
type Value interface {
	Kind() Kind
	Accept(v ValueVisitor)
	isValue()
}

// ValueVisitor dispatches on a node value. Implementations must handle every
// variant, so adding a variant breaks every consumer at compile time.
type ValueVisitor interface {
	VisitRoot(*Root)
	VisitTransaction(*Transaction)
	VisitSpan(*Span)
	VisitTraceError(*TraceError)
	VisitParentAutogroup(*ParentAutogroup)
	VisitSiblingAutogroup(*SiblingAutogroup)
	VisitMissingInstrumentation(*MissingInstrumentation)
	VisitNoData(*NoData)
}

// Root is the value of the synthetic tree root. It is never listed.
type Root struct{}

// Transaction is a transaction taken from the trace payload.
type Transaction struct {
	models.TraceTransaction
}

// Span is a span taken from a fetched transaction event.
type Span struct {
	models.RawSpan
}

// TraceError is an error event, either orphaned at trace level or attached
// to the span it was raised in.
type TraceError struct {
	models.TraceError
}

// ParentAutogroup collapses a chain of single-child spans sharing an op.
// Collapsed, it shows the tail's children; expanded, it shows the chain.
type ParentAutogroup struct {
	Op    string
	Head  *Node
	Tail  *Node
	Count int
}

// SiblingAutogroup owns a run of consecutive sibling spans with the same op
// and description.
type SiblingAutogroup struct {
	Op          string
	Description string
	Count       int
}

// MissingInstrumentation marks an uninstrumented gap between two sibling spans.
type MissingInstrumentation struct {
	Start float64
	End   float64
}

// Duration returns the length of the gap in seconds.
func (m *MissingInstrumentation) Duration() float64 {
	return m.End - m.Start
}

// NoData stands in for a fetched transaction that carried no spans.
type NoData struct{}

func (*Root) Kind() Kind                   { return KindRoot }
func (*Transaction) Kind() Kind            { return KindTransaction }
func (*Span) Kind() Kind                   { return KindSpan }
func (*TraceError) Kind() Kind             { return KindTraceError }
func (*ParentAutogroup) Kind() Kind        { return KindParentAutogroup }
func (*SiblingAutogroup) Kind() Kind       { return KindSiblingAutogroup }
func (*MissingInstrumentation) Kind() Kind { return KindMissingInstrumentation }
func (*NoData) Kind() Kind                 { return KindNoData }

func (r *Root) Accept(v ValueVisitor)                   { v.VisitRoot(r) }
func (t *Transaction) Accept(v ValueVisitor)            { v.VisitTransaction(t) }
func (s *Span) Accept(v ValueVisitor)                   { v.VisitSpan(s) }
func (e *TraceError) Accept(v ValueVisitor)             { v.VisitTraceError(e) }
func (g *ParentAutogroup) Accept(v ValueVisitor)        { v.VisitParentAutogroup(g) }
func (g *SiblingAutogroup) Accept(v ValueVisitor)       { v.VisitSiblingAutogroup(g) }
func (m *MissingInstrumentation) Accept(v ValueVisitor) { v.VisitMissingInstrumentation(m) }
func (d *NoData) Accept(v ValueVisitor)                 { v.VisitNoData(d) }

func (*Root) isValue()                   {}
func (*Transaction) isValue()            {}
func (*Span) isValue()                   {}
func (*TraceError) isValue()             {}
func (*ParentAutogroup) isValue()        {}
func (*SiblingAutogroup) isValue()       {}
func (*MissingInstrumentation) isValue() {}
func (*NoData) isValue()                 {}

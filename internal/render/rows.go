package render

import "traceview/internal/tracetree"

// Row is the wire form of one visible row.
type Row struct {
	Index      int                `json:"index"`
	Path       string             `json:"path"`
	Kind       string             `json:"kind"`
	Label      string             `json:"label"`
	Depth      int                `json:"depth"`
	Connectors []int              `json:"connectors"`
	LastChild  bool               `json:"last_child"`
	Expanded   bool               `json:"expanded"`
	ZoomedIn   bool               `json:"zoomed_in"`
	CanFetch   bool               `json:"can_fetch"`
	Children   int                `json:"children"`
	Metadata   tracetree.Metadata `json:"metadata"`
}

// Rows snapshots the visible rows of tree.
func Rows(tree *tracetree.TraceTree) []Row {
	var rows []Row
	tree.Read(func(list []*tracetree.Node) {
		rows = make([]Row, 0, len(list))
		for i, n := range list {
			rows = append(rows, Row{
				Index:      i,
				Path:       n.Path(),
				Kind:       n.Kind().String(),
				Label:      Label(n),
				Depth:      n.Depth(),
				Connectors: n.Connectors(),
				LastChild:  n.IsLastChild(),
				Expanded:   n.Expanded(),
				ZoomedIn:   n.ZoomedIn(),
				CanFetch:   n.CanFetchData(),
				Children:   len(n.Children()),
				Metadata:   n.Metadata(),
			})
		}
	})
	return rows
}

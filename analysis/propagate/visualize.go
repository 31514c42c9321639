package propagate

import (
	"io"
	"strings"

	"github.com/X-EcutiOnner/Ghidra/analysis/prog"
	"github.com/X-EcutiOnner/Ghidra/analysis/space"
	"github.com/X-EcutiOnner/Ghidra/utils/dot"
)

// FlowEdge is one discovered control transfer.
type FlowEdge struct {
	From, To space.Address
	Kind     prog.RefType
}

func edgeColor(t prog.RefType) string {
	switch {
	case t.IsCall():
		return "blue"
	case t.IsComputed():
		return "red"
	case t.IsConditional():
		return "darkgreen"
	}
	return "black"
}

// FlowGraph builds a dot graph of the edges the last pass discovered.
func (e *Engine) FlowGraph(title string) *dot.Graph {
	g := &dot.Graph{
		Title:   title,
		Options: map[string]string{"rankdir": "TB"},
	}
	nodes := make(map[space.Address]*dot.Node)
	node := func(a space.Address) *dot.Node {
		if n, ok := nodes[a]; ok {
			return n
		}
		label := a.String()
		if in := e.instructionAt(a); in != nil {
			label += "\n" + in.Mnemonic
		}
		n := &dot.Node{
			ID:    a.String(),
			Attrs: dot.Attrs{"label": label},
		}
		nodes[a] = n
		g.Nodes = append(g.Nodes, n)
		return n
	}
	for _, fe := range e.edges {
		if fe.From.IsNone() {
			continue
		}
		g.Edges = append(g.Edges, &dot.Edge{
			From: node(fe.From),
			To:   node(fe.To),
			Attrs: dot.Attrs{
				"color": edgeColor(fe.Kind),
				"label": strings.ToLower(fe.Kind.String()),
			},
		})
	}
	return g
}

// WriteFlowGraph emits the last pass's flow graph as dot text.
func (e *Engine) WriteFlowGraph(w io.Writer, title string) error {
	return e.FlowGraph(title).WriteDot(w)
}

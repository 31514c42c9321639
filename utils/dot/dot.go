// Package dot builds dot graphs and renders them through graphviz. The
// propagation engine uses it to emit the flow graph a pass discovered.
package dot

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/goccy/go-graphviz"
)

const tmplCluster = `{{define "cluster" -}}
	{{printf "subgraph %q {" .}}
		{{printf "%s" .Attrs.Lines}}
		{{range .Nodes}}
		{{template "node" .}}
		{{- end}}
		{{range .Clusters}}
		{{template "cluster" .}}
		{{- end}}
	{{println "}" }}
{{- end}}`

const tmplEdge = `{{define "edge" -}}
	{{printf "%q -> %q [ %s ]" .From .To .Attrs}}
{{- end}}`

const tmplNode = `{{define "node" -}}
	{{printf "%q [ %s ]" .ID .Attrs}}
{{- end}}`

const tmplGraph = `digraph FlowGraph {
	label="{{.Title}}";
	labeljust="l";
	fontname="Arial";
	fontsize="14";
	rankdir="{{or .Options.rankdir "TB"}}";
	style="solid";
	penwidth="0.5";
	pad="0.0";

	node [shape="box" style="filled" fillcolor="honeydew" fontname="Courier" penwidth="1.0" margin="0.05,0.0"];

	{{- range .Clusters}}
	{{template "cluster" .}}
	{{- end}}

	{{range .Nodes}}
	{{template "node" .}}
	{{- end}}

	{{- range .Edges}}
	{{template "edge" .}}
	{{- end}}
}
`

type Cluster struct {
	ID       string
	Clusters []*Cluster
	Nodes    []*Node
	Attrs    Attrs
}

func (c *Cluster) String() string {
	return fmt.Sprintf("cluster_%s", c.ID)
}

type Node struct {
	ID    string
	Attrs Attrs
}

func (n *Node) String() string {
	return n.ID
}

type Edge struct {
	From  *Node
	To    *Node
	Attrs Attrs
}

type Attrs map[string]string

func (p Attrs) List() []string {
	l := []string{}
	for k, v := range p {
		l = append(l, fmt.Sprintf("%s=%q;", k, v))
	}
	return l
}

func (p Attrs) String() string {
	return strings.Join(p.List(), " ")
}

func (p Attrs) Lines() string {
	return strings.Join(p.List(), "\n")
}

type Graph struct {
	Title    string
	Attrs    Attrs
	Clusters []*Cluster
	Nodes    []*Node
	Edges    []*Edge
	Options  map[string]string
}

// WriteDot emits the graph as dot text.
func (g *Graph) WriteDot(w io.Writer) error {
	t := template.New("dot")
	t.Option("missingkey=zero")
	for _, s := range []string{tmplCluster, tmplNode, tmplEdge, tmplGraph} {
		if _, err := t.Parse(s); err != nil {
			return err
		}
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, g); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

// RenderFile renders the graph to an image file. The format is derived
// from graphviz's format names ("svg", "png", "dot").
func (g *Graph) RenderFile(fname, format string) error {
	var buf bytes.Buffer
	if err := g.WriteDot(&buf); err != nil {
		return err
	}
	gv := graphviz.New()
	defer gv.Close()
	parsed, err := graphviz.ParseBytes(buf.Bytes())
	if err != nil {
		return fmt.Errorf("parsing dot: %w", err)
	}
	defer parsed.Close()
	if err := gv.RenderFilename(parsed, graphviz.Format(format), fname); err != nil {
		return fmt.Errorf("rendering %s: %w", fname, err)
	}
	return nil
}

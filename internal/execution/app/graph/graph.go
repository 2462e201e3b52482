// Package graph turns a node subset and the enclosing workflow's edges into
// an immutable execution plan.
package graph

import (
	"github.com/weaveflow-go/internal/domain/workflow"
	"github.com/weaveflow-go/pkg/logger"
)

// Plan is the dependency structure of one run. It is read-only after Build.
type Plan struct {
	nodes      []workflow.Node
	index      map[string]int
	inDegree   map[string]int
	dependents map[string][]string
	incoming   map[string][]workflow.Edge

	// DroppedEdges counts edges excluded because an endpoint was outside the subset.
	DroppedEdges int
}

// Build restricts edges to those with both endpoints in nodes and computes
// in-degrees, ordered dependents, and ordered input edges per node.
// Cycles are not detected here.
func Build(nodes []workflow.Node, edges []workflow.Edge, log logger.Logger) (*Plan, error) {
	if len(nodes) == 0 {
		return nil, workflow.NewGraphError(workflow.EmptyScope, "at least one node is required")
	}

	p := &Plan{
		nodes:      make([]workflow.Node, 0, len(nodes)),
		index:      make(map[string]int, len(nodes)),
		inDegree:   make(map[string]int, len(nodes)),
		dependents: make(map[string][]string, len(nodes)),
		incoming:   make(map[string][]workflow.Edge, len(nodes)),
	}

	for _, n := range nodes {
		if _, dup := p.index[n.ID]; dup {
			return nil, workflow.NewGraphError(workflow.DuplicateNode, "duplicate node id", n.ID)
		}
		p.index[n.ID] = len(p.nodes)
		p.nodes = append(p.nodes, n)
		p.inDegree[n.ID] = 0
	}

	for _, e := range edges {
		_, srcIn := p.index[e.Source]
		_, tgtIn := p.index[e.Target]
		if !srcIn || !tgtIn {
			p.DroppedEdges++
			continue
		}
		p.inDegree[e.Target]++
		p.dependents[e.Source] = append(p.dependents[e.Source], e.Target)
		p.incoming[e.Target] = append(p.incoming[e.Target], e)
	}

	if p.DroppedEdges > 0 && log != nil {
		log.Debug("Dropped out-of-scope edges", "dropped", p.DroppedEdges, "nodes", len(p.nodes))
	}

	return p, nil
}

// Nodes returns the scoped nodes in subset order.
func (p *Plan) Nodes() []workflow.Node {
	return p.nodes
}

func (p *Plan) Len() int {
	return len(p.nodes)
}

func (p *Plan) Node(id string) (workflow.Node, bool) {
	i, ok := p.index[id]
	if !ok {
		return workflow.Node{}, false
	}
	return p.nodes[i], true
}

// InDegree returns the number of in-scope edges targeting id.
func (p *Plan) InDegree(id string) int {
	return p.inDegree[id]
}

// Dependents returns targets of id's in-scope edges, one entry per edge.
func (p *Plan) Dependents(id string) []string {
	return p.dependents[id]
}

// Incoming returns the in-scope edges targeting id in edge-list order.
func (p *Plan) Incoming(id string) []workflow.Edge {
	return p.incoming[id]
}

// Roots returns the zero in-degree nodes in subset order.
func (p *Plan) Roots() []workflow.Node {
	var roots []workflow.Node
	for _, n := range p.nodes {
		if p.inDegree[n.ID] == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}

// TopoOrder returns a Kahn ordering of the plan and the ids left over when
// the scoped graph contains a cycle.
func (p *Plan) TopoOrder() (order []string, residual []string) {
	deg := make(map[string]int, len(p.inDegree))
	for id, d := range p.inDegree {
		deg[id] = d
	}
	queue := make([]string, 0, len(p.nodes))
	for _, n := range p.nodes {
		if deg[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, dep := range p.dependents[id] {
			deg[dep]--
			if deg[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if len(order) < len(p.nodes) {
		for _, n := range p.nodes {
			if deg[n.ID] > 0 {
				residual = append(residual, n.ID)
			}
		}
	}
	return order, residual
}

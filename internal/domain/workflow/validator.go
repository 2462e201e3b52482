package workflow

import (
	"fmt"
)

// ValidateEdge checks that an edge connects an existing output handle to an
// existing input handle of the same kind.
func ValidateEdge(e Edge, source, target Node) error {
	if e.Source == e.Target {
		return NewGraphError(InvalidEdge, "edge connects a node to itself", e.Source)
	}
	outKind, ok := OutputKind(source.Type, e.SourceHandle)
	if !ok {
		return NewGraphError(InvalidEdge,
			fmt.Sprintf("%s has no output handle %q", source.Type, e.SourceHandle), source.ID)
	}
	inKind, ok := InputKind(target.Type, e.TargetHandle)
	if !ok {
		return NewGraphError(InvalidEdge,
			fmt.Sprintf("%s has no input handle %q", target.Type, e.TargetHandle), target.ID)
	}
	if outKind != inKind {
		return NewGraphError(InvalidEdge,
			fmt.Sprintf("cannot connect %s output to %s input", outKind, inKind), source.ID, target.ID)
	}
	return nil
}

// ValidateSubmission checks a node subset and edge list before a run is created.
// Edges with an endpoint outside the subset belong to the enclosing workflow
// and are not checked.
func ValidateSubmission(scope Scope, nodes []Node, edges []Edge, known func(NodeType) bool) error {
	if !scope.Valid() {
		return NewGraphError(InvalidScope, fmt.Sprintf("unknown scope %q", scope))
	}
	if len(nodes) == 0 {
		return NewGraphError(EmptyScope, "at least one node is required")
	}
	if scope == ScopeSingle && len(nodes) != 1 {
		return NewGraphError(InvalidScope, fmt.Sprintf("single scope requires exactly one node, got %d", len(nodes)))
	}

	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			return NewGraphError(InvalidEdge, "node id is required")
		}
		if _, dup := byID[n.ID]; dup {
			return NewGraphError(DuplicateNode, "duplicate node id", n.ID)
		}
		if known != nil && !known(n.Type) {
			return NewGraphError(UnknownNodeType, fmt.Sprintf("unknown node type: %s", n.Type), n.ID)
		}
		byID[n.ID] = n
	}

	for _, e := range edges {
		src, okSrc := byID[e.Source]
		tgt, okTgt := byID[e.Target]
		if !okSrc || !okTgt {
			continue
		}
		if err := ValidateEdge(e, src, tgt); err != nil {
			return err
		}
	}
	return nil
}

package domain

import "archcore/pkg/metamodel"

// Layout is the visual content of a view.
type Layout struct {
	Nodes []VisualNode `json:"nodes"`
	Edges []VisualEdge `json:"edges"`
}

// Position is a canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// VisualNode places an element on a view. ParentID names the enclosing visual
// node when the element is nested inside another one.
type VisualNode struct {
	ID       string   `json:"id"`
	Type     string   `json:"type,omitempty"`
	ParentID string   `json:"parentId,omitempty"`
	Position Position `json:"position"`
	Width    float64  `json:"width,omitempty"`
	Height   float64  `json:"height,omitempty"`
	Data     NodeData `json:"data"`
}

// NodeData links a visual node to the element it represents.
type NodeData struct {
	ElementID   ElementRef            `json:"elementId,omitempty"`
	ElementType metamodel.ElementType `json:"elementType,omitempty"`
	Label       string                `json:"label,omitempty"`
}

// VisualEdge draws a relation between two visual nodes. Source and Target are
// node identifiers, not element identifiers.
type VisualEdge struct {
	ID       string     `json:"id"`
	Source   string     `json:"source"`
	Target   string     `json:"target"`
	Type     string     `json:"type,omitempty"`
	Animated bool       `json:"animated,omitempty"`
	Style    *EdgeStyle `json:"style,omitempty"`
	Data     EdgeData   `json:"data"`
}

// EdgeStyle carries the rendering hints set on inferred edges.
type EdgeStyle struct {
	Dashed  bool    `json:"dashed,omitempty"`
	Opacity float64 `json:"opacity,omitempty"`
}

// EdgeData links a visual edge to the relation it represents. Derived edges
// carry no relation reference.
type EdgeData struct {
	RelationID   RelationRef            `json:"relationId,omitempty"`
	RelationType metamodel.RelationType `json:"relationType,omitempty"`
	IsDerived    bool                   `json:"isDerived,omitempty"`
	IsNesting    bool                   `json:"isNesting,omitempty"`
}

// Clone returns a deep copy of the layout with non-nil slices.
func (l Layout) Clone() Layout {
	out := Layout{
		Nodes: make([]VisualNode, len(l.Nodes)),
		Edges: make([]VisualEdge, len(l.Edges)),
	}
	copy(out.Nodes, l.Nodes)
	for i, e := range l.Edges {
		if e.Style != nil {
			style := *e.Style
			e.Style = &style
		}
		out.Edges[i] = e
	}
	return out
}

// PruneElement removes every node representing the element and every edge
// attached to one of those nodes. It reports whether anything was removed.
func (l *Layout) PruneElement(id string) bool {
	removed := make(map[string]struct{})
	nodes := l.Nodes[:0]
	for _, n := range l.Nodes {
		if string(n.Data.ElementID) == id {
			removed[n.ID] = struct{}{}
			continue
		}
		nodes = append(nodes, n)
	}
	l.Nodes = nodes
	if len(removed) == 0 {
		return false
	}
	for i := range l.Nodes {
		if _, gone := removed[l.Nodes[i].ParentID]; gone {
			l.Nodes[i].ParentID = ""
		}
	}
	edges := l.Edges[:0]
	for _, e := range l.Edges {
		_, src := removed[e.Source]
		_, dst := removed[e.Target]
		if src || dst {
			continue
		}
		edges = append(edges, e)
	}
	l.Edges = edges
	return true
}

// PruneRelation removes every edge representing the relation. It reports
// whether anything was removed.
func (l *Layout) PruneRelation(id string) bool {
	before := len(l.Edges)
	edges := l.Edges[:0]
	for _, e := range l.Edges {
		if string(e.Data.RelationID) == id {
			continue
		}
		edges = append(edges, e)
	}
	l.Edges = edges
	return len(l.Edges) != before
}

// RemapRefs rewrites element and relation references through the supplied
// id maps. References without a mapping are left untouched.
func (l *Layout) RemapRefs(elements, relations map[string]string) {
	for i := range l.Nodes {
		if mapped, ok := elements[string(l.Nodes[i].Data.ElementID)]; ok {
			l.Nodes[i].Data.ElementID = ElementRef(mapped)
		}
	}
	for i := range l.Edges {
		if mapped, ok := relations[string(l.Edges[i].Data.RelationID)]; ok {
			l.Edges[i].Data.RelationID = RelationRef(mapped)
		}
	}
}

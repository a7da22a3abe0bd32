package repository

import (
	"archcore/pkg/domain"
	"archcore/pkg/metamodel"
)

const nestingOpacity = 0.4

type nodePair struct{ a, b string }

// pairOf keys a node pair without direction: an edge either way counts as
// a connection.
func pairOf(a, b string) nodePair {
	if a > b {
		a, b = b, a
	}
	return nodePair{a, b}
}

// InferRelations returns the edges implied by the view's layout without
// modifying it. Nesting edges join each nested node to its visual parent;
// derived edges close one generation of two-step chains over the existing and
// nesting edges. No edge is produced for a node pair that is already
// connected in either direction. It reports false when the view is unknown.
func (s *Store) InferRelations(viewID string) ([]domain.VisualEdge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	view, ok := s.views[viewID]
	if !ok {
		return nil, false
	}
	layout := view.Layout

	nodes := make(map[string]domain.VisualNode, len(layout.Nodes))
	for _, n := range layout.Nodes {
		nodes[n.ID] = n
	}
	connected := make(map[nodePair]struct{}, len(layout.Edges))
	for _, e := range layout.Edges {
		connected[pairOf(e.Source, e.Target)] = struct{}{}
	}

	var inferred []domain.VisualEdge
	base := make([]domain.VisualEdge, 0, len(layout.Edges))
	base = append(base, layout.Edges...)

	for _, child := range layout.Nodes {
		parent, ok := nodes[child.ParentID]
		if child.ParentID == "" || !ok {
			continue
		}
		key := pairOf(parent.ID, child.ID)
		if _, done := connected[key]; done {
			continue
		}
		relType := metamodel.Aggregation
		if s.nodeElementType(parent) == metamodel.GroupType {
			relType = metamodel.Composition
		}
		edge := domain.VisualEdge{
			ID:     "nesting_" + parent.ID + "_" + child.ID,
			Source: parent.ID,
			Target: child.ID,
			Style:  &domain.EdgeStyle{Dashed: true, Opacity: nestingOpacity},
			Data: domain.EdgeData{
				RelationType: relType,
				IsDerived:    true,
				IsNesting:    true,
			},
		}
		connected[key] = struct{}{}
		inferred = append(inferred, edge)
		base = append(base, edge)
	}

	for _, first := range base {
		for _, second := range base {
			if first.Target != second.Source || first.Source == second.Target {
				continue
			}
			key := pairOf(first.Source, second.Target)
			if _, done := connected[key]; done {
				continue
			}
			connected[key] = struct{}{}
			inferred = append(inferred, domain.VisualEdge{
				ID:       "derived_" + first.Source + "_" + second.Target,
				Source:   first.Source,
				Target:   second.Target,
				Animated: true,
				Style:    &domain.EdgeStyle{Dashed: true},
				Data: domain.EdgeData{
					RelationType: metamodel.DerivedRelationship(s.edgeRelationType(first), s.edgeRelationType(second)),
					IsDerived:    true,
				},
			})
		}
	}
	return inferred, true
}

func (s *Store) nodeElementType(n domain.VisualNode) metamodel.ElementType {
	if e, ok := s.elements[string(n.Data.ElementID)]; ok {
		return e.Type
	}
	return n.Data.ElementType
}

func (s *Store) edgeRelationType(e domain.VisualEdge) metamodel.RelationType {
	if e.Data.RelationType != "" {
		return e.Data.RelationType
	}
	if r, ok := s.relations[string(e.Data.RelationID)]; ok {
		return r.Type
	}
	return metamodel.Association
}

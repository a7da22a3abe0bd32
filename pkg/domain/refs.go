package domain

// ElementRef is a weak reference to an element. It may dangle; Resolve
// reports whether the target still exists.
type ElementRef string

// RelationRef is a weak reference to a relation.
type RelationRef string

// ElementFinder looks up elements by identifier.
type ElementFinder interface {
	FindElement(id string) (Element, bool)
}

// RelationFinder looks up relations by identifier.
type RelationFinder interface {
	FindRelation(id string) (Relation, bool)
}

// Resolve looks the referenced element up in finder.
func (r ElementRef) Resolve(finder ElementFinder) (Element, bool) {
	if r == "" || finder == nil {
		return Element{}, false
	}
	return finder.FindElement(string(r))
}

// Resolve looks the referenced relation up in finder.
func (r RelationRef) Resolve(finder RelationFinder) (Relation, bool) {
	if r == "" || finder == nil {
		return Relation{}, false
	}
	return finder.FindRelation(string(r))
}

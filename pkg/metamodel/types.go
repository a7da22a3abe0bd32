// Package metamodel defines the element and relation type tables of the
// architecture metamodel together with the pure compatibility and derivation
// rules evaluated against them.
package metamodel

import "sort"

// Layer groups element types into the architecture layers of the metamodel.
type Layer string

// Metamodel layers.
const (
	LayerStrategy       Layer = "strategy"
	LayerBusiness       Layer = "business"
	LayerApplication    Layer = "application"
	LayerTechnology     Layer = "technology"
	LayerPhysical       Layer = "physical"
	LayerMotivation     Layer = "motivation"
	LayerImplementation Layer = "implementation"
	LayerOther          Layer = "other"
)

// ElementType identifies a concrete element kind, e.g. "business-actor".
type ElementType string

// RelationType identifies a concrete relation kind, e.g. "serving".
type RelationType string

// GroupType is the generic container element; relations touching it are always valid.
const GroupType ElementType = "group"

// Relation types in descending strength order.
const (
	Composition    RelationType = "composition"
	Aggregation    RelationType = "aggregation"
	Assignment     RelationType = "assignment"
	Realization    RelationType = "realization"
	Serving        RelationType = "serving"
	Access         RelationType = "access"
	Influence      RelationType = "influence"
	Triggering     RelationType = "triggering"
	Flow           RelationType = "flow"
	Specialization RelationType = "specialization"
	Association    RelationType = "association"
)

var relationStrength = map[RelationType]int{
	Composition:    10,
	Aggregation:    9,
	Assignment:     8,
	Realization:    7,
	Serving:        6,
	Access:         5,
	Influence:      4,
	Triggering:     3,
	Flow:           2,
	Specialization: 1,
	Association:    0,
}

var relationsByStrength = func() map[int]RelationType {
	out := make(map[int]RelationType, len(relationStrength))
	for rel, strength := range relationStrength {
		out[strength] = rel
	}
	return out
}()

var elementLayers = map[ElementType]Layer{
	// strategy
	"resource":         LayerStrategy,
	"capability":       LayerStrategy,
	"value-stream":     LayerStrategy,
	"course-of-action": LayerStrategy,
	// business
	"business-actor":         LayerBusiness,
	"business-role":          LayerBusiness,
	"business-collaboration": LayerBusiness,
	"business-interface":     LayerBusiness,
	"business-process":       LayerBusiness,
	"business-function":      LayerBusiness,
	"business-interaction":   LayerBusiness,
	"business-event":         LayerBusiness,
	"business-service":       LayerBusiness,
	"business-object":        LayerBusiness,
	"contract":               LayerBusiness,
	"representation":         LayerBusiness,
	"product":                LayerBusiness,
	// application
	"application-component":     LayerApplication,
	"application-collaboration": LayerApplication,
	"application-interface":     LayerApplication,
	"application-function":      LayerApplication,
	"application-interaction":   LayerApplication,
	"application-process":       LayerApplication,
	"application-event":         LayerApplication,
	"application-service":       LayerApplication,
	"data-object":               LayerApplication,
	// technology
	"node":                     LayerTechnology,
	"device":                   LayerTechnology,
	"system-software":          LayerTechnology,
	"technology-collaboration": LayerTechnology,
	"technology-interface":     LayerTechnology,
	"path":                     LayerTechnology,
	"communication-network":    LayerTechnology,
	"technology-function":      LayerTechnology,
	"technology-process":       LayerTechnology,
	"technology-interaction":   LayerTechnology,
	"technology-event":         LayerTechnology,
	"technology-service":       LayerTechnology,
	"artifact":                 LayerTechnology,
	// physical
	"equipment":            LayerPhysical,
	"facility":             LayerPhysical,
	"distribution-network": LayerPhysical,
	"material":             LayerPhysical,
	// motivation
	"stakeholder": LayerMotivation,
	"driver":      LayerMotivation,
	"assessment":  LayerMotivation,
	"goal":        LayerMotivation,
	"outcome":     LayerMotivation,
	"principle":   LayerMotivation,
	"requirement": LayerMotivation,
	"constraint":  LayerMotivation,
	"meaning":     LayerMotivation,
	"value":       LayerMotivation,
	// implementation & migration
	"work-package":         LayerImplementation,
	"deliverable":          LayerImplementation,
	"implementation-event": LayerImplementation,
	"plateau":              LayerImplementation,
	"gap":                  LayerImplementation,
	// other
	GroupType:  LayerOther,
	"junction": LayerOther,
	"location": LayerOther,
}

// LayerOf returns the layer of an element type. Unknown types report LayerOther
// and false.
func LayerOf(t ElementType) (Layer, bool) {
	layer, ok := elementLayers[t]
	if !ok {
		return LayerOther, false
	}
	return layer, true
}

// IsElementType reports whether t is a key of the element type table.
func IsElementType(t ElementType) bool {
	_, ok := elementLayers[t]
	return ok
}

// IsRelationType reports whether t is a known relation type.
func IsRelationType(t RelationType) bool {
	_, ok := relationStrength[t]
	return ok
}

// Strength returns the fixed strength of a relation type. Unknown types are
// treated as association (0).
func Strength(t RelationType) int {
	return relationStrength[t]
}

// ElementTypes lists every element type sorted by name.
func ElementTypes() []ElementType {
	out := make([]ElementType, 0, len(elementLayers))
	for t := range elementLayers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RelationTypes lists every relation type from strongest to weakest.
func RelationTypes() []RelationType {
	out := make([]RelationType, 0, len(relationStrength))
	for strength := len(relationsByStrength) - 1; strength >= 0; strength-- {
		out = append(out, relationsByStrength[strength])
	}
	return out
}

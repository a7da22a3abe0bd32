package metamodel

// structuralOrder ranks layers for composition and aggregation; a whole may
// only contain parts from its own or a later layer.
var structuralOrder = rankOf(
	LayerStrategy,
	LayerMotivation,
	LayerBusiness,
	LayerApplication,
	LayerTechnology,
	LayerPhysical,
	LayerImplementation,
)

// realizationOrder ranks layers for realization; concrete layers realize
// more abstract ones.
var realizationOrder = rankOf(
	LayerPhysical,
	LayerTechnology,
	LayerApplication,
	LayerBusiness,
	LayerStrategy,
	LayerMotivation,
)

func rankOf(layers ...Layer) map[Layer]int {
	out := make(map[Layer]int, len(layers))
	for i, l := range layers {
		out[l] = i
	}
	return out
}

// CanConnect reports whether a relation of relType may connect an element of
// sourceType to an element of targetType. Relation types without an explicit
// rule are permitted.
func CanConnect(sourceType, targetType ElementType, relType RelationType) bool {
	if relType == Association {
		return true
	}
	if sourceType == GroupType || targetType == GroupType {
		return true
	}
	sourceLayer, _ := LayerOf(sourceType)
	targetLayer, _ := LayerOf(targetType)

	switch relType {
	case Specialization:
		return sourceType == targetType || sourceLayer == targetLayer
	case Composition, Aggregation:
		if sourceLayer == LayerOther || targetLayer == LayerOther {
			return true
		}
		return structuralOrder[sourceLayer] <= structuralOrder[targetLayer]
	case Realization:
		if sourceLayer == targetLayer {
			return true
		}
		sourceRank, sourceRanked := realizationOrder[sourceLayer]
		targetRank, targetRanked := realizationOrder[targetLayer]
		if !sourceRanked || !targetRanked {
			return true
		}
		return sourceRank < targetRank
	default:
		return true
	}
}

// ValidRelationships returns every relation type, strongest first, that may
// connect sourceType to targetType.
func ValidRelationships(sourceType, targetType ElementType) []RelationType {
	var out []RelationType
	for _, rel := range RelationTypes() {
		if CanConnect(sourceType, targetType, rel) {
			out = append(out, rel)
		}
	}
	return out
}

// DerivedRelationship returns the relation implied by the chain
// A -rel1-> B -rel2-> C. A derived relation is never stronger than the weakest
// link in its chain.
func DerivedRelationship(rel1, rel2 RelationType) RelationType {
	strength := Strength(rel1)
	if s := Strength(rel2); s < strength {
		strength = s
	}
	return relationsByStrength[strength]
}

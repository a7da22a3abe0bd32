package metamodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivedRelationshipStrengthIsMinimum(t *testing.T) {
	relations := RelationTypes()
	require.Len(t, relations, 11)
	for _, r1 := range relations {
		for _, r2 := range relations {
			derived := DerivedRelationship(r1, r2)
			want := Strength(r1)
			if Strength(r2) < want {
				want = Strength(r2)
			}
			assert.Equalf(t, want, Strength(derived), "derive(%s, %s) = %s", r1, r2, derived)
			assert.Equal(t, derived, DerivedRelationship(r2, r1))
		}
	}
}

func TestDerivedRelationshipExamples(t *testing.T) {
	assert.Equal(t, Composition, DerivedRelationship(Composition, Composition))
	assert.Equal(t, Serving, DerivedRelationship(Composition, Serving))
	assert.Equal(t, Association, DerivedRelationship(Flow, Association))
	assert.Equal(t, Triggering, DerivedRelationship(Assignment, Triggering))
}

func TestAssociationAlwaysValid(t *testing.T) {
	types := ElementTypes()
	for _, s := range types {
		for _, tt := range types {
			if !CanConnect(s, tt, Association) {
				t.Fatalf("association %s -> %s rejected", s, tt)
			}
		}
	}
}

func TestGroupEndpointAlwaysValid(t *testing.T) {
	for _, rel := range RelationTypes() {
		assert.True(t, CanConnect(GroupType, "node", rel), rel)
		assert.True(t, CanConnect("goal", GroupType, rel), rel)
	}
}

func TestCanConnectLayerRules(t *testing.T) {
	cases := []struct {
		name   string
		source ElementType
		target ElementType
		rel    RelationType
		want   bool
	}{
		{"specialization same type", "node", "node", Specialization, true},
		{"specialization same layer", "node", "device", Specialization, true},
		{"specialization across layers", "node", "business-actor", Specialization, false},
		{"composition business into application", "business-actor", "application-component", Composition, true},
		{"composition technology into business", "node", "business-process", Composition, false},
		{"aggregation same layer", "node", "device", Aggregation, true},
		{"aggregation location passes", "location", "capability", Aggregation, true},
		{"aggregation strategy into implementation", "capability", "work-package", Aggregation, true},
		{"realization technology to application", "artifact", "application-component", Realization, true},
		{"realization application to technology", "application-component", "node", Realization, false},
		{"realization same layer", "business-process", "business-service", Realization, true},
		{"realization from implementation", "deliverable", "application-component", Realization, true},
		{"serving unrestricted", "node", "goal", Serving, true},
		{"flow unrestricted", "business-event", "data-object", Flow, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CanConnect(tc.source, tc.target, tc.rel))
		})
	}
}

func TestValidRelationshipsFiltersByCanConnect(t *testing.T) {
	valid := ValidRelationships("application-component", "node")
	assert.Contains(t, valid, Association)
	assert.Contains(t, valid, Serving)
	assert.Contains(t, valid, Composition)
	assert.NotContains(t, valid, Realization)
	assert.NotContains(t, valid, Specialization)
	assert.Equal(t, Composition, valid[0])
}

func TestLayerLookup(t *testing.T) {
	layer, ok := LayerOf("data-object")
	require.True(t, ok)
	assert.Equal(t, LayerApplication, layer)

	layer, ok = LayerOf("spaceship")
	assert.False(t, ok)
	assert.Equal(t, LayerOther, layer)

	assert.True(t, IsElementType(GroupType))
	assert.True(t, IsRelationType(Influence))
	assert.False(t, IsRelationType("depends-on"))
}

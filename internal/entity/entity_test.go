package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	e := Entity{
		EntityID: "e1",
		Payload:  map[string]any{"a": 1},
		Metadata: map[string]string{"source": "x"},
		Breadcrumbs: []Breadcrumb{{ID: "root", Name: "root", Kind: "root"}},
		Vector:       []float32{1, 2},
		SparseVector: map[int]float64{1: 0.5},
	}

	clone := e.Clone()
	clone.Payload["a"] = 2
	clone.Metadata["source"] = "y"
	clone.Breadcrumbs[0].Name = "changed"
	clone.Vector[0] = 99
	clone.SparseVector[1] = 9.9

	assert.Equal(t, 1, e.Payload["a"], "mutating the clone's payload must not affect the original")
	assert.Equal(t, "x", e.Metadata["source"])
	assert.Equal(t, "root", e.Breadcrumbs[0].Name)
	assert.Equal(t, float32(1), e.Vector[0])
	assert.Equal(t, 0.5, e.SparseVector[1])
}

func TestCloneHandlesNilFields(t *testing.T) {
	e := Entity{EntityID: "e1"}
	clone := e.Clone()
	assert.Nil(t, clone.Payload)
	assert.Nil(t, clone.Metadata)
	assert.Nil(t, clone.Breadcrumbs)
	assert.Nil(t, clone.Vector)
	assert.Nil(t, clone.SparseVector)
}

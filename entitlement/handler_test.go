package entitlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	h, ok := r.Lookup(ObjectMailbox)
	require.True(t, ok)
	assert.True(t, h.Exclusive)

	h, ok = r.Lookup(ObjectStorage)
	require.True(t, ok)
	assert.False(t, h.Exclusive)

	_, ok = r.Lookup(Object("printer"))
	assert.False(t, ok)
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Handler{Object: "printer", Label: "Printer"}))
	assert.Error(t, r.Register(Handler{Object: "printer"}))
	assert.Equal(t, []Object{"printer"}, r.Objects())
}

func TestEffectiveCost(t *testing.T) {
	e := &Entitlement{}
	assert.Equal(t, int64(500), e.EffectiveCost(500))
	assert.Equal(t, int64(25), e.EffectiveFee(25))

	cost, fee := int64(0), int64(10)
	e.Cost, e.Fee = &cost, &fee
	assert.Equal(t, int64(0), e.EffectiveCost(500))
	assert.Equal(t, int64(10), e.EffectiveFee(25))
}

func TestRefString(t *testing.T) {
	assert.Equal(t, "mailbox:jane@example.org", Ref{Type: ObjectMailbox, ID: "jane@example.org"}.String())
}

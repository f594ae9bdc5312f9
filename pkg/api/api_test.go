package api

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSupersedes(t *testing.T) {
	h := Handle{Unit: "u", Host: "a"}
	v1 := Record{Unit: "u", Handle: h, Version: 1}
	v2 := Record{Unit: "u", Handle: h, Version: 2}

	assert.True(t, v2.Supersedes(v1))
	assert.False(t, v1.Supersedes(v2))
	assert.True(t, v1.Supersedes(v1), "equal versions replace")
}

func TestHandleString(t *testing.T) {
	h := Handle{Unit: "u1", Host: "a"}
	assert.Equal(t, "u1@a", h.String())
	assert.False(t, h.IsZero())
	assert.True(t, ZeroHandle.IsZero())
}

func TestStrategyValidate(t *testing.T) {
	assert.NoError(t, DefaultStrategy.Validate())
	assert.True(t, DefaultStrategy.Forwarding())

	s := DefaultStrategy
	s.TTL = 0
	assert.NoError(t, s.Validate())
	assert.False(t, s.Forwarding())

	for _, bad := range []Strategy{
		{TTL: -time.Second},
		{MaxHandoffs: -1},
		{MaxResidency: -time.Second},
	} {
		assert.Error(t, bad.Validate(), "%+v", bad)
	}
}

func TestIsGone(t *testing.T) {
	nf := &NotFoundError{Unit: "u"}
	te := &TerminatedError{Unit: "u"}
	me := &MigratingError{Unit: "u"}

	assert.True(t, IsNotFound(nf))
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", nf)))
	assert.False(t, IsNotFound(te))

	assert.True(t, IsGone(nf))
	assert.True(t, IsGone(fmt.Errorf("wrapped: %w", te)))
	assert.False(t, IsGone(me), "migrating units come back")
	assert.False(t, IsGone(ErrClosed))
}

func TestTransferErrorUnwrap(t *testing.T) {
	err := &TransferError{Unit: "u", Target: "b", Err: ErrClosed}
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, "transfer failed: registry closed (unit=u, target=b)", err.Error())
}

func TestUnitStateString(t *testing.T) {
	assert.Equal(t, "UsActive", UsActive.String())
	assert.Equal(t, "UsForwarding", UsForwarding.String())
	assert.Equal(t, "UsUnknown", UnitState(99).String())
}

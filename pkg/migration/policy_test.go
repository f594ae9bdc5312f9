package migration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticPolicy(t *testing.T) {
	ctx := context.Background()
	p := NewStaticPolicy(
		Rule{Unit: "secret"},
		Rule{From: "a", To: "b"},
	)

	assert.False(t, p.MayMigrate(ctx, "secret", "a", "c"))
	assert.False(t, p.MayMigrate(ctx, "u1", "a", "b"))
	assert.True(t, p.MayMigrate(ctx, "u1", "b", "a"))
	assert.True(t, p.MayMigrate(ctx, "u1", "a", "c"))

	p.Deny(Rule{To: "c"})
	assert.False(t, p.MayMigrate(ctx, "u1", "a", "c"))

	assert.True(t, AllowAll{}.MayMigrate(ctx, "secret", "a", "b"))
}

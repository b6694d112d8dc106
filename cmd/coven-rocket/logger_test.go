// ABOUTME: Tests for the colorized slog handler.
// ABOUTME: Covers level filtering and group-qualified attribute keys.

package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColorHandler_Enabled(t *testing.T) {
	h := &colorHandler{level: slog.LevelInfo}
	assert.False(t, h.Enabled(context.Background(), slog.LevelDebug))
	assert.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestColorHandler_GroupsQualifyAttrKeys(t *testing.T) {
	base := &colorHandler{level: slog.LevelDebug}

	grouped := base.WithGroup("conn").WithAttrs([]slog.Attr{slog.String("id", "c1")})
	h, ok := grouped.(*colorHandler)
	require.True(t, ok)

	require.Len(t, h.attrs, 1)
	assert.Equal(t, "conn.id", h.attrs[0].Key)

	// Record attrs written under the open group pick up the same prefix.
	assert.Equal(t, "conn.peer", h.qualify("peer"))

	// The root handler leaves keys alone, and an empty group is a no-op.
	assert.Equal(t, "peer", base.qualify("peer"))
	assert.Same(t, base, base.WithGroup(""))
}

func TestColorHandler_WithAttrsDoesNotMutateParent(t *testing.T) {
	base := &colorHandler{level: slog.LevelDebug}
	child := base.WithAttrs([]slog.Attr{slog.String("account", "main")})

	assert.Empty(t, base.attrs)
	assert.Len(t, child.(*colorHandler).attrs, 1)
}

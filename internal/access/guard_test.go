package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuard_IsAllowed(t *testing.T) {
	tests := []struct {
		name     string
		allowed  []int64
		chatID   int64
		expected bool
	}{
		{name: "empty list allows all", allowed: nil, chatID: 123, expected: true},
		{name: "listed chat", allowed: []int64{-100500, 42}, chatID: 42, expected: true},
		{name: "listed group", allowed: []int64{-100500, 42}, chatID: -100500, expected: true},
		{name: "unlisted chat", allowed: []int64{-100500, 42}, chatID: 7, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuard(tt.allowed)
			assert.Equal(t, tt.expected, g.IsAllowed(tt.chatID))
		})
	}
}

func TestGuard_NotAffectedBySourceMutation(t *testing.T) {
	ids := []int64{1}
	g := NewGuard(ids)
	ids[0] = 2

	assert.True(t, g.IsAllowed(1))
	assert.False(t, g.IsAllowed(2))
}

func TestGuard_Restricted(t *testing.T) {
	assert.False(t, NewGuard(nil).Restricted())
	assert.True(t, NewGuard([]int64{1}).Restricted())
}

package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitClientID(t *testing.T) {
	tests := []struct {
		clientID string
		base     string
		order    int
	}{
		{"abc", "abc", 0},
		{"abc_3", "abc", 3},
		{"abc_x", "abc", 0},
		{"abc_-2", "abc", 0},
		{"abc_1_2", "abc", 1},
		{"", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.clientID, func(t *testing.T) {
			base, order := SplitClientID(tt.clientID)
			assert.Equal(t, tt.base, base)
			assert.Equal(t, tt.order, order)
		})
	}
}

func TestJoinClientIDAndDumpID(t *testing.T) {
	assert.Equal(t, "abc_4", JoinClientID("abc", 4))
	assert.Equal(t, "abc_4.gz", DumpID(JoinClientID("abc", 4)))
	assert.Equal(t, "abc.gz", DumpID("abc"))
}

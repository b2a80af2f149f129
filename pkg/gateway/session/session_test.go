package session

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseShard(t *testing.T) {
	tests := []struct {
		value string
		want  *Shard
	}{
		{"0,1", &Shard{ID: 0, Count: 1}},
		{"3,16", &Shard{ID: 3, Count: 16}},
		{" 2 , 4 ", &Shard{ID: 2, Count: 4}},
		{"65535,65535", &Shard{ID: 65535, Count: 65535}},
		{"", nil},
		{"3", nil},
		{"3,", nil},
		{",16", nil},
		{"a,b", nil},
		{"-1,4", nil},
		{"65536,1", nil},
		{"1,2,3", nil},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseShard(tt.value))
		})
	}
}

func TestShardString(t *testing.T) {
	assert.Equal(t, "3,16", Shard{ID: 3, Count: 16}.String())
}

func TestNewSession(t *testing.T) {
	s := New("10.0.0.1:5000", &Shard{ID: 1, Count: 2})

	_, err := uuid.Parse(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:5000", s.RemoteAddr)
	assert.Equal(t, &Shard{ID: 1, Count: 2}, s.Shard)
	assert.False(t, s.ConnectedAt.IsZero())

	assert.NotEqual(t, s.ID, New("10.0.0.1:5000", nil).ID)
}

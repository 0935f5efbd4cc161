package book

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvanceCursor(t *testing.T) {
	tests := []struct {
		name                    string
		cursor, position, total int
		want                    int
	}{
		{"next in order", 6, 6, 10, 7},
		{"replay of older unit", 7, 3, 10, 7},
		{"clamped to total", 9, 12, 10, 10},
		{"last unit", 9, 9, 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AdvanceCursor(tt.cursor, tt.position, tt.total))
		})
	}
}

func TestAdvanceCursor_Monotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const total = 25
	cursor := 0
	for i := 0; i < 1000; i++ {
		next := AdvanceCursor(cursor, rng.Intn(40)-5, total)
		assert.GreaterOrEqual(t, next, cursor)
		assert.LessOrEqual(t, next, total)
		cursor = next
	}
}

func TestRunnableAndPercent(t *testing.T) {
	p := &Project{Status: ProjectActive}
	r := &Run{Status: RunRunning}
	assert.True(t, Runnable(p, r))

	r.Status = RunPaused
	assert.False(t, Runnable(p, r))
	assert.False(t, Runnable(nil, r))

	g := &Group{Cursor: 3, UnitCount: 4}
	assert.Equal(t, 75.0, g.Percent())
	assert.Equal(t, 100.0, (&Group{}).Percent())
}

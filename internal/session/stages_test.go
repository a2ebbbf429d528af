package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStageName(t *testing.T) {
	assert.Equal(t, "Welcome & Introduction", StageName(1))
	assert.Equal(t, "Problem Definition", StageName(3))
	assert.Equal(t, "Goals & Next Steps", StageName(7))
	assert.Equal(t, "", StageName(0))
	assert.Equal(t, "", StageName(8))
}

func TestOverallProgressAt(t *testing.T) {
	assert.Equal(t, 0, OverallProgressAt(1))
	assert.Equal(t, 14, OverallProgressAt(2))
	assert.Equal(t, 28, OverallProgressAt(3))
	assert.Equal(t, 42, OverallProgressAt(4))
	assert.Equal(t, 57, OverallProgressAt(5))
	assert.Equal(t, 71, OverallProgressAt(6))
	assert.Equal(t, 85, OverallProgressAt(7))
	assert.Equal(t, 100, OverallProgressAt(8))
	assert.Equal(t, 0, OverallProgressAt(0))
}

package feedhash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStable_DeterministicAndSensitive(t *testing.T) {
	h1 := Stable([]byte("v1"))
	h2 := Stable([]byte("v1"))
	h3 := Stable([]byte("v2"))
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

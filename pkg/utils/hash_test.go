package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashPrefix(t *testing.T) {
	long := strings.Repeat("a", 100)
	assert.Equal(t, HashPrefix(long+"tail one", 100), HashPrefix(long+"tail two", 100))
	assert.NotEqual(t, HashPrefix("short a", 100), HashPrefix("short b", 100))
	assert.Equal(t, HashString("héllo"), HashPrefix("héllo wörld", 5))
}

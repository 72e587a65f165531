package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsStringInSortedSlice(t *testing.T) {
	assert.True(t, IsStringInSortedSlice([]string{"audio", "gpu", "serial"}, "gpu"))
	assert.False(t, IsStringInSortedSlice([]string{"audio", "serial"}, "gpu"))
	assert.False(t, IsStringInSortedSlice([]string{"audio", "serial"}, ""))
	assert.False(t, IsStringInSortedSlice([]string{}, "gpu"))
}

package pkg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContains(t *testing.T) {
	assert.True(t, Contains([]string{"720p", "480p"}, "480p"))
	assert.False(t, Contains([]string{"720p"}, "1080p"))
	assert.False(t, Contains(nil, 1))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"720p", "480p"}, SplitList(" 720p, ,480p,720p "))
	assert.Nil(t, SplitList(""))
}

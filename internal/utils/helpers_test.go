package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSmallHelpers(t *testing.T) {
	s := "v"
	assert.Equal(t, "v", StrOrEmpty(&s))
	assert.Equal(t, "", StrOrEmpty(nil))

	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.FixedZone("CST", 8*3600))
	assert.Equal(t, "2024-03-01T01:00:00Z", FormatTime(&ts))
	assert.Equal(t, "", FormatTime(nil))

	assert.True(t, IsHidden("/data/.git"))
	assert.False(t, IsHidden("/data/p1.json"))
	assert.False(t, IsHidden("."))
}

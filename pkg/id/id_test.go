package id

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsMonotonic(t *testing.T) {
	t.Parallel()

	prev := New()
	for i := 0; i < 1000; i++ {
		next := New()
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestPrefixedIDs(t *testing.T) {
	t.Parallel()

	o := Order()
	assert.True(t, strings.HasPrefix(o, "ord-"))
	assert.LessOrEqual(t, len(o), 36)
	assert.True(t, strings.HasPrefix(Trade(), "trd-"))
	assert.True(t, strings.HasPrefix(Session(), "ses-"))
}

func TestTime(t *testing.T) {
	t.Parallel()

	before := time.Now().Add(-time.Second)
	ts, err := Time(Order())
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = Time("not-an-id")
	assert.Error(t, err)
}

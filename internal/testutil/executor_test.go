package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManualExecutor_HoldsWorkUntilFlush(t *testing.T) {
	var e ManualExecutor
	var ran []int

	e.Run(func() { ran = append(ran, 1) })
	e.Run(func() {
		ran = append(ran, 2)
		e.Run(func() { ran = append(ran, 3) })
	})
	assert.Empty(t, ran)
	assert.Equal(t, 2, e.Len())

	assert.Equal(t, 3, e.Flush())
	assert.Equal(t, []int{1, 2, 3}, ran)
	assert.Zero(t, e.Len())
	assert.Zero(t, e.Flush())
}

func TestFixtures(t *testing.T) {
	l := Link("l1", "c1", "go")
	assert.Equal(t, "c1", l.ScopeKey())
	assert.Equal(t, []string{"go"}, l.Tags)
	assert.Equal(t, User, Tab("t1", 0).ScopeKey())
	assert.Equal(t, "t1", Category("c1", "t1", 2).ScopeKey())
	assert.True(t, Settings(true, false).ShowLinkCount)
}

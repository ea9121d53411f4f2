package budget_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/caliper-aggregate/internal/budget"
)

func TestUnboundedControllerAlwaysAcquires(t *testing.T) {
	c := budget.New(0)
	for i := 0; i < 1000; i++ {
		assert.True(t, c.TryAcquire())
	}
	assert.Equal(t, 0, c.Max())
}

func TestBoundedControllerExhausts(t *testing.T) {
	c := budget.New(2)
	assert.True(t, c.TryAcquire())
	assert.True(t, c.TryAcquire())
	assert.False(t, c.TryAcquire())

	c.Release()
	assert.True(t, c.TryAcquire())
}

func TestNilControllerIsUnbounded(t *testing.T) {
	var c *budget.Controller
	assert.True(t, c.TryAcquire())
	assert.NotPanics(t, c.Release)
	assert.Equal(t, 0, c.Max())
}

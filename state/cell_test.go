package state

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellThreeStates(t *testing.T) {
	c := NewCell[int]()
	r := c.Get()
	assert.False(t, r.Set)
	assert.False(t, r.OK())

	c.Set(7)
	r = c.Get()
	assert.True(t, r.OK())
	assert.Equal(t, 7, c.Value())

	boom := errors.New("boom")
	c.Fail(boom)
	r = c.Get()
	assert.True(t, r.Set)
	assert.False(t, r.OK())
	assert.ErrorIs(t, r.Err, boom)
	assert.Equal(t, 0, c.Value())

	c.Reset()
	assert.False(t, c.Get().Set)
}

func TestCellObserveOrder(t *testing.T) {
	c := NewCellWith("a")
	var got []string
	cancel := c.Observe(func(r Result[string]) { got = append(got, r.Value) })

	c.Set("b")
	c.Set("c")
	cancel()
	c.Set("d")

	assert.Equal(t, []string{"b", "c"}, got)
}

func TestCellSubscribeLatest(t *testing.T) {
	c := NewCell[int]()
	ch, cancel := c.Subscribe()
	defer cancel()

	for i := range 5 {
		c.Set(i)
	}
	r := <-ch
	require.True(t, r.OK())
	assert.Equal(t, 4, r.Value)
}

func TestCellConcurrentReaders(t *testing.T) {
	c := NewCellWith(0)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() { defer wg.Done(); c.Set(i) }()
		go func() { defer wg.Done(); _ = c.Get() }()
	}
	wg.Wait()
	assert.True(t, c.Get().OK())
}

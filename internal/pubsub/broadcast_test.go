package pubsub

import (
	"testing"

	"github.com/danmuck/groundctl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLateSubscriberSeesLatestValue(t *testing.T) {
	testlog.Start(t)
	b := New[int](4, true)
	b.Publish(1)
	b.Publish(2)

	ch, cancel := b.Subscribe()
	defer cancel()
	require.Equal(t, 2, <-ch)

	b.Publish(3)
	require.Equal(t, 3, <-ch)
}

func TestNoReplayWithoutFlag(t *testing.T) {
	testlog.Start(t)
	b := New[string](2, false)
	b.Publish("old")
	ch, cancel := b.Subscribe()
	defer cancel()
	select {
	case v := <-ch:
		t.Fatalf("unexpected replay %q", v)
	default:
	}
	latest, ok := b.Latest()
	assert.True(t, ok)
	assert.Equal(t, "old", latest)
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	testlog.Start(t)
	drops := 0
	b := New[int](2, false).OnDrop(func() { drops++ })
	ch, cancel := b.Subscribe()
	defer cancel()
	for i := 1; i <= 5; i++ {
		b.Publish(i)
	}
	assert.Equal(t, 4, <-ch)
	assert.Equal(t, 5, <-ch)
	assert.Equal(t, 3, drops)
}

func TestCancelAndCloseCloseChannels(t *testing.T) {
	testlog.Start(t)
	b := New[int](1, true)
	ch1, cancel1 := b.Subscribe()
	ch2, _ := b.Subscribe()
	assert.Equal(t, 2, b.Len())

	cancel1()
	cancel1()
	_, ok := <-ch1
	assert.False(t, ok)

	b.Close()
	_, ok = <-ch2
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())

	ch3, cancel3 := b.Subscribe()
	defer cancel3()
	_, ok = <-ch3
	assert.False(t, ok)
}

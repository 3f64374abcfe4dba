package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessor_PerDeviceOrdering(t *testing.T) {
	p := NewProcessor()
	defer p.Shutdown()

	var mu sync.Mutex
	var order []string
	record := func(name string, delay time.Duration) Func {
		return func(context.Context) (any, error) {
			time.Sleep(delay)
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		}
	}

	dev0 := Key{Source: "client", Sink: "/d/0"}
	dev1 := Key{Source: "client", Sink: "/d/1"}

	r1, r2, r3 := newRecorder(), newRecorder(), newRecorder()
	require.NoError(t, p.Add(dev0, New("a1", record("a1", 30*time.Millisecond), r1)))
	require.NoError(t, p.Add(dev0, New("a2", record("a2", 0), r2)))
	require.NoError(t, p.Add(dev1, New("b1", record("b1", 0), r3)))

	r1.wait(t)
	r2.wait(t)
	r3.wait(t)

	mu.Lock()
	defer mu.Unlock()
	idx := func(s string) int {
		for i, v := range order {
			if v == s {
				return i
			}
		}
		return -1
	}
	assert.Less(t, idx("a1"), idx("a2"), "same-device tasks complete in submission order")
	assert.Less(t, idx("b1"), idx("a1"), "other devices are not blocked")
}

func TestProcessor_CancelQueueOnlyAffectsOneCaller(t *testing.T) {
	p := NewProcessor()
	defer p.Shutdown()

	block := func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	mine := newRecorder()
	theirs := newRecorder()
	require.NoError(t, p.Add(Key{Source: "me", Sink: "/d/0"}, New("Ping", block, mine)))
	require.NoError(t, p.Add(Key{Source: "them", Sink: "/d/0"}, New("Ping", block, theirs)))

	p.CancelQueue(Key{Source: "me", Sink: "/d/0"})
	mine.wait(t)

	assert.True(t, errors.Is(mine.lastErr(), ErrCancelled))
	assert.Equal(t, 0, theirs.answers())
	assert.True(t, p.Has(Key{Source: "them", Sink: "/d/0"}))
	assert.False(t, p.Has(Key{Source: "me", Sink: "/d/0"}))
}

func TestProcessor_QueueReusableAfterCancel(t *testing.T) {
	p := NewProcessor()
	defer p.Shutdown()
	key := Key{Source: "me", Sink: "/d/0"}

	p.CancelQueue(key)

	rec := newRecorder()
	require.NoError(t, p.Add(key, New("GetTestInfo", func(context.Context) (any, error) {
		return "ok", nil
	}, rec)))
	rec.wait(t)
	assert.Equal(t, []any{"ok"}, rec.results)
}

func TestProcessor_RemoveSourceAndSink(t *testing.T) {
	p := NewProcessor()
	defer p.Shutdown()

	idle := func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	keys := []Key{
		{Source: "a", Sink: "/d/0"},
		{Source: "a", Sink: "/d/1"},
		{Source: "b", Sink: "/d/0"},
		{Source: "b", Sink: "/d/1"},
	}
	for _, k := range keys {
		require.NoError(t, p.Add(k, New("Ping", idle, nil)))
	}
	require.Equal(t, 4, p.Len())

	p.RemoveSource("a")
	assert.Equal(t, 2, p.Len())
	assert.False(t, p.Has(keys[0]))

	p.RemoveSink("/d/0")
	assert.Equal(t, 1, p.Len())
	assert.True(t, p.Has(keys[3]))
}

func TestProcessor_Shutdown(t *testing.T) {
	p := NewProcessor()

	rec := newRecorder()
	require.NoError(t, p.Add(Key{Source: "a", Sink: "/d/0"}, New("Ping", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, rec)))

	p.Shutdown()
	rec.wait(t)

	assert.True(t, errors.Is(rec.lastErr(), ErrDied))
	assert.ErrorIs(t, p.Add(Key{Source: "a", Sink: "/d/0"}, New("x", nil, nil)), ErrProcessorClosed)
	assert.Equal(t, 0, p.Len())
}

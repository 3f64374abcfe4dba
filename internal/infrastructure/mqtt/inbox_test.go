package mqtt

import (
	"sync"
	"testing"
	"time"
)

func TestInbox_FIFO(t *testing.T) {
	q := NewInbox[int]()
	for i := range 5 {
		if !q.Push(i) {
			t.Fatalf("Push(%d) = false", i)
		}
	}
	if q.Len() != 5 {
		t.Errorf("Len() = %d, want 5", q.Len())
	}

	select {
	case <-q.Ready():
	default:
		t.Fatal("Ready() not signalled after Push")
	}

	got := q.Drain()
	for i, v := range got {
		if v != i {
			t.Fatalf("Drain() = %v, want 0..4 in order", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("Drain() returned %d items, want 5", len(got))
	}
	if rest := q.Drain(); len(rest) != 0 {
		t.Errorf("second Drain() = %v, want empty", rest)
	}
}

func TestInbox_PushNeverBlocks(t *testing.T) {
	q := NewInbox[int]()
	const n = 10000

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range n {
			q.Push(i)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Push blocked without a consumer")
	}
	if q.Len() != n {
		t.Errorf("Len() = %d, want %d", q.Len(), n)
	}
}

func TestInbox_ConcurrentConsumerSeesOrder(t *testing.T) {
	q := NewInbox[int]()
	const n = 2000

	var got []int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for len(got) < n {
			<-q.Ready()
			got = append(got, q.Drain()...)
		}
	}()

	for i := range n {
		q.Push(i)
	}
	wg.Wait()

	for i, v := range got {
		if v != i {
			t.Fatalf("item %d = %d, out of order", i, v)
		}
	}
}

func TestInbox_Close(t *testing.T) {
	q := NewInbox[string]()
	q.Push("a")
	q.Close()

	if q.Push("b") {
		t.Error("Push() after Close = true, want false")
	}
	if q.Len() != 0 {
		t.Errorf("Len() after Close = %d, want 0", q.Len())
	}
}

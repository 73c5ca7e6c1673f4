package eventloop

import (
	"io"
	"log/slog"
	"sync"
	"testing"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPostRunsSynchronouslyWhenIdle(t *testing.T) {
	l := New(newLogger())
	ran := false
	l.Post(func() { ran = true })
	if !ran {
		t.Fatal("expected callback to run before Post returned")
	}
}

func TestNestedPostRunsAfterCurrentCallback(t *testing.T) {
	l := New(newLogger())
	var order []string
	l.Post(func() {
		order = append(order, "outer-start")
		l.Post(func() { order = append(order, "inner") })
		order = append(order, "outer-end")
	})
	want := []string{"outer-start", "outer-end", "inner"}
	if len(order) != len(want) {
		t.Fatalf("got %v want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v want %v", order, want)
		}
	}
}

func TestPanicDoesNotWedgeLoop(t *testing.T) {
	l := New(newLogger())
	l.Post(func() { panic("boom") })
	ran := false
	l.Post(func() { ran = true })
	if !ran {
		t.Fatal("loop stopped draining after panic")
	}
}

func TestConcurrentPostsAreSerialized(t *testing.T) {
	l := New(newLogger())
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		overlap bool
		count   int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Post(func() {
				mu.Lock()
				active++
				if active > 1 {
					overlap = true
				}
				mu.Unlock()

				mu.Lock()
				active--
				count++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()
	// A poster that found the loop busy returns before its callback runs, so
	// wait for a sentinel queued behind everything else.
	done := make(chan struct{})
	l.Post(func() { close(done) })
	<-done
	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Fatal("callbacks overlapped")
	}
	if count != 50 {
		t.Fatalf("expected 50 callbacks, got %d", count)
	}
}

package pqueue

import (
	"errors"
	"testing"
)

func TestPopOrdersByPriorityThenFIFO(t *testing.T) {
	q := New()
	q.Push(3, "c")
	q.Push(1, "a1")
	q.Push(2, "b")
	q.Push(1, "a2")

	want := []string{"a1", "a2", "b", "c"}
	for i, w := range want {
		_, v, err := q.Pop()
		if err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
		if v.(string) != w {
			t.Fatalf("pop %d: got %v want %v", i, v, w)
		}
	}
}

func TestPopEmpty(t *testing.T) {
	q := New()
	if _, _, err := q.Pop(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
	q.Push(2, "x")
	if _, _, err := q.Pop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := q.Pop(); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty after drain, got %v", err)
	}
}

func TestLenTracksPushesAndPops(t *testing.T) {
	q := New()
	for i := 0; i < 5; i++ {
		q.Push(2, i)
	}
	if q.Len() != 5 {
		t.Fatalf("len = %d, want 5", q.Len())
	}
	_, _, _ = q.Pop()
	if q.Len() != 4 {
		t.Fatalf("len = %d, want 4", q.Len())
	}
}

package internal

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestSendQueueControlFirst(t *testing.T) {
	q := NewSendQueue[string]()

	for _, item := range []string{"data-1", "data-2"} {
		if err := q.PushData(item); err != nil {
			t.Fatalf("PushData(%q) returned %v", item, err)
		}
	}
	if err := q.PushControl("pong"); err != nil {
		t.Fatalf("PushControl returned %v", err)
	}
	if err := q.PushData("data-3"); err != nil {
		t.Fatalf("PushData returned %v", err)
	}
	if err := q.PushControl("close"); err != nil {
		t.Fatalf("PushControl returned %v", err)
	}

	stop := make(chan struct{})
	var popped []string
	for range 5 {
		item, ok := q.Pop(stop)
		if !ok {
			t.Fatalf("Pop returned ok=false with items queued")
		}
		popped = append(popped, item)
	}

	expected := []string{"pong", "close", "data-1", "data-2", "data-3"}
	if !reflect.DeepEqual(popped, expected) {
		t.Errorf("popped %v, expected %v", popped, expected)
	}
}

func TestSendQueuePopWakesOnPush(t *testing.T) {
	q := NewSendQueue[int]()
	stop := make(chan struct{})

	got := make(chan int)
	go func() {
		item, _ := q.Pop(stop)
		got <- item
	}()

	time.Sleep(10 * time.Millisecond)
	if err := q.PushData(42); err != nil {
		t.Fatalf("PushData returned %v", err)
	}

	select {
	case item := <-got:
		if item != 42 {
			t.Errorf("Pop() = %d, expected 42", item)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up after push")
	}
}

func TestSendQueuePopStops(t *testing.T) {
	q := NewSendQueue[int]()
	stop := make(chan struct{})
	close(stop)

	if _, ok := q.Pop(stop); ok {
		t.Errorf("Pop on empty queue with closed stop returned ok=true")
	}
}

func TestSendQueueClose(t *testing.T) {
	q := NewSendQueue[string]()
	_ = q.PushData("a")
	_ = q.PushControl("b")

	left := q.Close()
	if !reflect.DeepEqual(left, []string{"b", "a"}) {
		t.Errorf("Close() = %v, expected [b a]", left)
	}

	if err := q.PushData("c"); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("PushData after Close returned %v, expected %v", err, ErrQueueClosed)
	}
	if _, ok := q.Pop(make(chan struct{})); ok {
		t.Errorf("Pop after Close returned ok=true")
	}
	if left := q.Close(); left != nil {
		t.Errorf("second Close() = %v, expected nil", left)
	}
}

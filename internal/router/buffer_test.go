package router

import (
	"sync"
	"testing"
	"time"
)

func TestGrowableBuffer_SendReceiveOrder(t *testing.T) {
	buf := NewGrowableBuffer[int](4)

	for i := 0; i < 100; i++ {
		if !buf.Send(i) {
			t.Fatalf("Send(%d) returned false", i)
		}
	}

	stats := buf.Stats()
	if stats.Count != 100 {
		t.Errorf("Count = %d, want 100", stats.Count)
	}
	if stats.ResizeCount < 3 {
		t.Errorf("ResizeCount = %d, expected at least 3 resizes", stats.ResizeCount)
	}

	for i := 0; i < 100; i++ {
		val, ok := buf.Receive()
		if !ok {
			t.Fatalf("Receive() returned false for item %d", i)
		}
		if val != i {
			t.Errorf("received %d, want %d", val, i)
		}
	}
}

func TestGrowableBuffer_WrapAround(t *testing.T) {
	buf := NewGrowableBuffer[int](5)

	buf.Send(1)
	buf.Send(2)
	buf.Send(3)
	buf.Receive()
	buf.Receive()
	buf.Send(4)
	buf.Send(5)
	buf.Send(6)
	buf.Send(7)
	buf.Send(8)

	for _, want := range []int{3, 4, 5, 6, 7, 8} {
		got, ok := buf.Receive()
		if !ok {
			t.Fatalf("Receive failed, expected %d", want)
		}
		if got != want {
			t.Errorf("got %d, want %d", got, want)
		}
	}
}

func TestGrowableBuffer_BlockingReceive(t *testing.T) {
	buf := NewGrowableBuffer[string](10)

	received := make(chan string, 1)
	go func() {
		val, ok := buf.Receive()
		if ok {
			received <- val
		}
	}()

	time.Sleep(10 * time.Millisecond)
	buf.Send("hello")

	select {
	case val := <-received:
		if val != "hello" {
			t.Errorf("received %q, want %q", val, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for blocked receive")
	}
}

func TestGrowableBuffer_Close(t *testing.T) {
	buf := NewGrowableBuffer[int](10)
	buf.Send(1)
	buf.Close()

	if buf.Send(2) {
		t.Error("Send should return false after Close")
	}
	if val, ok := buf.Receive(); !ok || val != 1 {
		t.Errorf("Receive() = %d, %v; want 1, true", val, ok)
	}
	if _, ok := buf.Receive(); ok {
		t.Error("Receive should return false when closed and empty")
	}
}

func TestGrowableBuffer_CloseUnblocksReceive(t *testing.T) {
	buf := NewGrowableBuffer[int](10)

	done := make(chan []int, 1)
	go func() {
		done <- buf.ReceiveBatch(10)
	}()

	time.Sleep(10 * time.Millisecond)
	buf.Close()

	select {
	case items := <-done:
		if items != nil {
			t.Errorf("ReceiveBatch = %v, want nil after close", items)
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock ReceiveBatch")
	}
}

func TestGrowableBuffer_ReceiveBatch(t *testing.T) {
	buf := NewGrowableBuffer[int](10)
	for i := 0; i < 7; i++ {
		buf.Send(i)
	}

	first := buf.ReceiveBatch(5)
	if len(first) != 5 || first[0] != 0 || first[4] != 4 {
		t.Errorf("ReceiveBatch(5) = %v", first)
	}
	rest := buf.ReceiveBatch(0)
	if len(rest) != 2 || rest[0] != 5 || rest[1] != 6 {
		t.Errorf("ReceiveBatch(0) = %v", rest)
	}
	if got := buf.DrainTo(0); got != nil {
		t.Errorf("DrainTo on empty buffer = %v, want nil", got)
	}
	buf.Send(7)
	buf.Send(8)
	if got := buf.DrainTo(1); len(got) != 1 || got[0] != 7 {
		t.Errorf("DrainTo(1) = %v, want [7]", got)
	}
}

func TestGrowableBuffer_ConcurrentSendReceive(t *testing.T) {
	buf := NewGrowableBuffer[int](10)
	const numItems = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < numItems; i++ {
			buf.Send(i)
		}
	}()

	received := make([]int, 0, numItems)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for len(received) < numItems {
			items := buf.ReceiveBatch(64)
			received = append(received, items...)
		}
	}()
	wg.Wait()

	for i, val := range received {
		if val != i {
			t.Fatalf("received[%d] = %d, want %d", i, val, i)
		}
	}
}

func TestNewGrowableBuffer_MinCapacity(t *testing.T) {
	if c := NewGrowableBuffer[int](0).Stats().Capacity; c != 1 {
		t.Errorf("Capacity = %d, want 1 for initial capacity 0", c)
	}
	if c := NewGrowableBuffer[int](-5).Stats().Capacity; c != 1 {
		t.Errorf("Capacity = %d, want 1 for negative initial capacity", c)
	}
}

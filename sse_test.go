package main

import (
	"sync"
	"testing"
	"time"
)

func TestBroadcasterRegisterUnregister(t *testing.T) {
	b := NewBroadcaster()

	c1 := b.Register(topicGrid)
	c2 := b.Register(topicGrid, sessionTopic("s1"))
	c3 := b.Register(sessionTopic("s2"))

	if b.ClientCount(topicGrid) != 2 {
		t.Fatalf("expected 2 grid clients, got %d", b.ClientCount(topicGrid))
	}
	if b.ClientCount(sessionTopic("s1")) != 1 {
		t.Fatalf("expected 1 client for s1, got %d", b.ClientCount(sessionTopic("s1")))
	}

	b.Unregister(c1)
	if b.ClientCount(topicGrid) != 1 {
		t.Fatalf("expected 1 grid client after unregister, got %d", b.ClientCount(topicGrid))
	}

	b.Unregister(c2)
	b.Unregister(c3)
	if b.ClientCount(topicGrid) != 0 || b.ClientCount(sessionTopic("s2")) != 0 {
		t.Fatal("expected 0 clients after full unregister")
	}
}

func TestBroadcasterDoubleUnregister(t *testing.T) {
	b := NewBroadcaster()
	c := b.Register(topicGrid)
	b.Unregister(c)
	b.Unregister(c) // should not panic
}

func TestBroadcastByTopic(t *testing.T) {
	b := NewBroadcaster()

	watcher := b.Register(topicGrid)
	buyer := b.Register(topicGrid, sessionTopic("buyer"))
	other := b.Register(topicGrid, sessionTopic("other"))
	defer b.Unregister(watcher)
	defer b.Unregister(buyer)
	defer b.Unregister(other)

	b.Broadcast(topicGrid, "cells")
	for name, c := range map[string]*client{"watcher": watcher, "buyer": buyer, "other": other} {
		select {
		case msg := <-c.ch:
			if msg != "cells" {
				t.Fatalf("%s expected 'cells', got %q", name, msg)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("%s did not receive grid message", name)
		}
	}

	b.Broadcast(sessionTopic("buyer"), "settled")
	select {
	case msg := <-buyer.ch:
		if msg != "settled" {
			t.Fatalf("buyer expected 'settled', got %q", msg)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("buyer did not receive session message")
	}

	// Session events stay private.
	select {
	case <-other.ch:
		t.Fatal("other session should not receive buyer's message")
	case <-watcher.ch:
		t.Fatal("anonymous watcher should not receive session message")
	case <-time.After(50 * time.Millisecond):
		// ok
	}
}

func TestBroadcastSkipsFullChannel(t *testing.T) {
	b := NewBroadcaster()
	c := b.Register(topicGrid)

	// Fill the channel.
	for range sseChannelBuffer {
		b.Broadcast(topicGrid, "fill")
	}

	// This should not block.
	b.Broadcast(topicGrid, "overflow")

	b.Unregister(c)
}

func TestBroadcasterConcurrent(t *testing.T) {
	b := NewBroadcaster()
	var wg sync.WaitGroup

	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			topic := topicGrid
			if i%2 == 0 {
				topic = sessionTopic("s")
			}
			c := b.Register(topic)
			b.Broadcast(topic, "msg")
			b.ClientCount(topic)
			b.Unregister(c)
		}(i)
	}
	wg.Wait()

	if b.ClientCount(topicGrid) != 0 || b.ClientCount(sessionTopic("s")) != 0 {
		t.Fatal("expected 0 clients after concurrent test")
	}
}

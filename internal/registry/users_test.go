package registry

import (
	"context"
	"sync"
	"testing"
)

type fakeConn struct{ id string }

func (f *fakeConn) ID() string { return f.id }
func (f *fakeConn) Send(context.Context, any) error { return nil }
func (f *fakeConn) Closed() bool { return false }

func TestAddReplacesAndLookup(t *testing.T) {
	r := New()
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}
	r.Add("alice", "Alice", c1)
	r.Add("alice", "Alice 2", c2)

	e, ok := r.Get("alice")
	if !ok || e.Conn != c2 || e.User.DisplayName != "Alice 2" {
		t.Fatalf("expected last write to win, got %+v", e)
	}
	if _, ok := r.LookupByConnection(c1); ok {
		t.Fatalf("stale connection should not resolve")
	}
	if e, ok := r.LookupByConnection(c2); !ok || e.User.ID != "alice" {
		t.Fatalf("LookupByConnection(c2) = %+v, %v", e, ok)
	}
}

func TestRemoveIfConn(t *testing.T) {
	r := New()
	old := &fakeConn{id: "old"}
	cur := &fakeConn{id: "new"}
	r.Add("bob", "Bob", old)
	r.Add("bob", "Bob", cur)

	if r.RemoveIfConn("bob", old) {
		t.Fatalf("stale conn must not evict newer entry")
	}
	if r.Len() != 1 {
		t.Fatalf("expected entry to survive")
	}
	if !r.RemoveIfConn("bob", cur) {
		t.Fatalf("expected removal by current conn")
	}
	r.Remove("bob") // no-op
	if r.Len() != 0 {
		t.Fatalf("expected empty registry")
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &fakeConn{}
			id := string(rune('a' + i%26))
			r.Add(id, id, c)
			r.LookupByConnection(c)
			r.RemoveIfConn(id, c)
		}(i)
	}
	wg.Wait()
}

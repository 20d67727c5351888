package relay

import (
	"errors"
	"reflect"
	"testing"
)

type fakeHandle struct {
	alive bool
}

func (h *fakeHandle) Alive() bool { return h.alive }

func TestRegistryNameTaken(t *testing.T) {
	r := NewRegistry()
	first := &fakeHandle{alive: true}
	if err := r.Register("alice", first); err != nil {
		t.Fatalf("failed to register alice: %s", err)
	}
	if err := r.Register("alice", &fakeHandle{alive: true}); err != ErrNameTaken {
		t.Errorf("Got: %v; Expected: %v", err, ErrNameTaken)
	}
	if h, ok := r.Lookup("alice"); !ok || h != Handle(first) {
		t.Errorf("alice lost her first handle: %v", h)
	}
	if r.Len() != 1 {
		t.Errorf("not len 1 after collision: %d", r.Len())
	}
}

func TestRegistryInvalidName(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"", "a b", "a:b", "abcdefghijklmnopqrstuvwxyz"} {
		if err := r.Register(name, &fakeHandle{alive: true}); !errors.Is(err, ErrInvalidName) {
			t.Errorf("%q: Got: %v; Expected: %v", name, err, ErrInvalidName)
		}
	}
	if r.Len() != 0 {
		t.Errorf("invalid names were registered: %v", r.Names())
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	r.Register("alice", &fakeHandle{alive: true})

	r.Unregister("alice")
	r.Unregister("alice")
	r.Unregister("nobody")

	if _, ok := r.Lookup("alice"); ok {
		t.Error("alice still registered after unregister")
	}
	if r.Len() != 0 {
		t.Errorf("not len 0 after unregister: %d", r.Len())
	}
	if err := r.Register("alice", &fakeHandle{alive: true}); err != nil {
		t.Errorf("failed to register alice again: %s", err)
	}
}

func TestRegistryDeadHandle(t *testing.T) {
	r := NewRegistry()
	dead := &fakeHandle{alive: true}
	r.Register("alice", dead)
	dead.alive = false

	if _, ok := r.Lookup("alice"); ok {
		t.Error("dead handle returned by lookup")
	}

	r.Register("bob", dead)
	replacement := &fakeHandle{alive: true}
	if err := r.Register("bob", replacement); err != nil {
		t.Fatalf("dead handle blocked registration: %s", err)
	}
	if h, _ := r.Lookup("bob"); h != Handle(replacement) {
		t.Errorf("Got: %v; Expected: %v", h, replacement)
	}
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"carol", "alice", "bob"} {
		r.Register(name, &fakeHandle{alive: true})
	}
	actual := r.Names()
	expected := []string{"alice", "bob", "carol"}
	if !reflect.DeepEqual(actual, expected) {
		t.Errorf("Got: %v; Expected: %v", actual, expected)
	}
}

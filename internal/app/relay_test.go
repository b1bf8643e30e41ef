package app

import (
	"testing"
	"time"
)

func TestRelayDeliversInOrder(t *testing.T) {
	r := NewRelay()
	r.Push(ConnectionMsg{Connected: true})
	r.Push(ConnectionMsg{Connected: false})

	if msg := r.Next()(); msg != (ConnectionMsg{Connected: true}) {
		t.Errorf("first = %#v", msg)
	}
	if msg := r.Next()(); msg != (ConnectionMsg{Connected: false}) {
		t.Errorf("second = %#v", msg)
	}
}

func TestRelayCloseUnblocks(t *testing.T) {
	r := NewRelay()
	got := make(chan any, 1)
	go func() { got <- r.Next()() }()

	r.Close()
	select {
	case msg := <-got:
		if msg != nil {
			t.Errorf("Next() after Close = %#v, want nil", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("Next() still blocked after Close")
	}
	if r.Push(ConnectionMsg{}) {
		t.Error("Push() succeeded on a closed relay")
	}
	r.Close()
}

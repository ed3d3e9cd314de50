package session

import (
	"reflect"
	"testing"
)

func TestReorder_InOrderFlushesImmediately(t *testing.T) {
	r := newReorder()
	var got []uint64

	r.submit(0, func() { got = append(got, 0) })
	r.submit(1, func() { got = append(got, 1) })

	if !reflect.DeepEqual(got, []uint64{0, 1}) {
		t.Errorf("expected [0 1], got %v", got)
	}
}

func TestReorder_HoldsUntilPredecessorArrives(t *testing.T) {
	r := newReorder()
	var got []uint64

	r.submit(1, func() { got = append(got, 1) })
	r.submit(2, func() { got = append(got, 2) })
	if len(got) != 0 {
		t.Fatalf("expected nothing emitted before sequence 0, got %v", got)
	}

	r.submit(0, func() { got = append(got, 0) })
	if !reflect.DeepEqual(got, []uint64{0, 1, 2}) {
		t.Errorf("expected [0 1 2], got %v", got)
	}
}

func TestReorder_Discard(t *testing.T) {
	r := newReorder()
	var got []uint64

	r.submit(1, func() { got = append(got, 1) })
	r.discard()
	r.submit(0, func() { got = append(got, 0) })

	if !reflect.DeepEqual(got, []uint64{0}) {
		t.Errorf("expected only [0] after discard, got %v", got)
	}
}

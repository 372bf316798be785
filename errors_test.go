package objdb

import (
	"errors"
	"strings"
	"testing"
)

func TestStoreError(t *testing.T) {
	err := storeErrf("people", "by_age", 10, ErrTriggerAbort, "")
	deepEqual(t, err.Error(), "people.by_age/10: aborted by trigger")
	isErr(t, err, ErrTriggerAbort)

	err = storeErrf("people", "", nil, ErrNotFound, "reading slot %d", 3)
	deepEqual(t, err.Error(), "people: reading slot 3: record not found")

	err = storeErrf("people", "", "x", nil, "bad")
	deepEqual(t, err.Error(), "people/x: bad")

	var se *StoreError
	if !errors.As(storeErrf("s", "", nil, nil, ""), &se) || se.Store != "s" {
		t.Fatalf("errors.As did not find *StoreError")
	}
}

func TestDataError(t *testing.T) {
	err := dataErrf([]byte{0xAB, 0xCD}, 1, nil, "boom")
	deepEqual(t, err.Error(), "boom at 1: (2) abcd")

	inner := errors.New("inner")
	err = dataErrf([]byte{0x01}, 0, inner, "boom")
	deepEqual(t, err.Error(), "boom at 0: inner: (1) 01")
	isErr(t, err, inner)

	long := make([]byte, 200)
	msg := dataErrf(long, 5, nil, "long").Error()
	if !strings.Contains(msg, "(200)") || !strings.Contains(msg, "...") {
		t.Fatalf("long DataError = %q, wanted an excerpt", msg)
	}
}

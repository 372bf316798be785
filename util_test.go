package objdb

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"testing"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isnil[T any, P ~*T](t testing.TB, a P) {
	if a != nil {
		t.Helper()
		t.Errorf("** got &%v, wanted nil", *a)
	}
}

func isnonnil[T any](t testing.TB, a *T) {
	if a == nil {
		t.Helper()
		t.Errorf("** got nil %T, wanted non-nil", a)
	}
}

func isErr(t testing.TB, err, target error) {
	if !errors.Is(err, target) {
		t.Helper()
		t.Errorf("** got error %v, wanted %v", err, target)
	}
}

// testLogger sends log output to t.Log.
func testLogger(t testing.TB) *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

// setup returns an activated database over drv (an in-memory driver if nil)
// that is closed when the test ends.
func setup(t testing.TB, drv Driver, opt Options) *DB {
	t.Helper()
	if drv == nil {
		drv = NewMemDriver()
	}
	if opt.Logger == nil {
		opt.Logger = testLogger(t)
		opt.Verbose = true
	}
	db := New(drv, opt)
	ensure(db.Activate(context.Background()))
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

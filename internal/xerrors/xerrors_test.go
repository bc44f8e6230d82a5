package xerrors

import (
	"errors"
	"io"
	"testing"
)

func TestNew_CapturesStack(t *testing.T) {
	err := New("boom")
	if err == nil {
		t.Fatal("New returned nil")
	}

	var hs interface{ StackPCs() []uintptr }
	if !errors.As(err, &hs) {
		t.Fatal("New did not attach a stack")
	}
	if len(hs.StackPCs()) == 0 {
		t.Fatal("captured stack is empty")
	}
	if err.Error() != "boom" {
		t.Fatalf("Error() = %q, want %q", err.Error(), "boom")
	}
}

func TestWrap_PreservesChain(t *testing.T) {
	err := Wrap(io.EOF, "reading fixture")
	if err == nil {
		t.Fatal("Wrap returned nil")
	}
	if !errors.Is(err, io.EOF) {
		t.Fatal("wrapped error lost its cause")
	}
	want := "reading fixture: EOF"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrap_NilPassthrough(t *testing.T) {
	if Wrap(nil, "nope") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "nope %d", 1) != nil {
		t.Fatal("Wrapf(nil) should be nil")
	}
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) should be nil")
	}
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) should be nil")
	}
}

func TestEnsureTrace_DoesNotDoubleWrap(t *testing.T) {
	base := New("already stacked")
	again := EnsureTrace(base)
	if again != base {
		t.Fatal("EnsureTrace re-wrapped an error that already carries a stack")
	}

	plain := errors.New("plain")
	traced := EnsureTrace(plain)
	if traced == plain {
		t.Fatal("EnsureTrace did not add a stack to a plain error")
	}
	if !errors.Is(traced, plain) {
		t.Fatal("EnsureTrace broke the error chain")
	}
}

func TestWrap_RecordsCallSite(t *testing.T) {
	err := Wrap(errors.New("x"), "ctx")
	var pcer interface{ PC() uintptr }
	if !errors.As(err, &pcer) {
		t.Fatal("wrap did not record a PC")
	}
	if pcer.PC() == 0 {
		t.Fatal("wrap PC is zero")
	}
}

package terminal

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestOutputBufferTracksLinesAndCarry(t *testing.T) {
	buffer := NewOutputBuffer(10)

	buffer.Append([]byte("hello"))
	lines := buffer.Lines()
	if len(lines) != 1 || lines[0] != "hello" {
		t.Fatalf("expected carry line, got %v", lines)
	}

	buffer.Append([]byte(" world\nnext\npartial"))
	lines = buffer.Lines()
	want := []string{"hello world", "next", "partial"}
	if len(lines) != len(want) {
		t.Fatalf("expected %v, got %v", want, lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, lines)
		}
	}
}

func TestOutputBufferDropsOldLines(t *testing.T) {
	buffer := NewOutputBuffer(2)
	buffer.Append([]byte("one\ntwo\nthree\n"))
	lines := buffer.Lines()
	want := []string{"two", "three"}
	if len(lines) != len(want) {
		t.Fatalf("expected %v, got %v", want, lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, lines)
		}
	}
}

func TestOutputBufferTrimsCarriageReturns(t *testing.T) {
	buffer := NewOutputBuffer(5)
	buffer.Append([]byte("one\r\ntwo\r\nthree\r"))
	lines := buffer.Lines()
	want := []string{"one", "two", "three"}
	if len(lines) != len(want) {
		t.Fatalf("expected %v, got %v", want, lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, lines)
		}
	}
}

func TestOutputBufferTail(t *testing.T) {
	buffer := NewOutputBuffer(10)
	buffer.Append([]byte("a\nb\nc\nd"))

	tests := []struct {
		n    int
		want []string
	}{
		{n: 0, want: []string{"a", "b", "c", "d"}},
		{n: 1, want: []string{"d"}},
		{n: 2, want: []string{"c", "d"}},
		{n: 9, want: []string{"a", "b", "c", "d"}},
	}
	for _, test := range tests {
		got := buffer.Tail(test.n)
		if strings.Join(got, ",") != strings.Join(test.want, ",") {
			t.Fatalf("tail(%d): expected %v, got %v", test.n, test.want, got)
		}
	}
}

func TestOutputBufferIgnoresEmptyAppend(t *testing.T) {
	buffer := NewOutputBuffer(5)
	buffer.Append(nil)
	if lines := buffer.Lines(); len(lines) != 0 {
		t.Fatalf("expected no lines, got %v", lines)
	}
}

func TestOutputBufferConcurrentAccessDoesNotBlock(t *testing.T) {
	buffer := NewOutputBuffer(10)
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buffer.Append([]byte(strings.Repeat("x", i%5) + "\n"))
		}(i)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for concurrent append")
	}
}

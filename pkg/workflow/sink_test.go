package workflow

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/codemother/codemother/pkg/engine"
)

func drain(t *testing.T, s *Sink) []string {
	t.Helper()
	var got []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-s.C():
			if !ok {
				return got
			}
			got = append(got, chunk)
		case <-timeout:
			t.Fatalf("sink not closed, got %v so far", got)
		}
	}
}

func TestSinkPreservesOrder(t *testing.T) {
	s := NewSink()
	for i := 0; i < 100; i++ {
		if !s.Next(fmt.Sprint(i)) {
			t.Fatalf("Next(%d) rejected", i)
		}
	}
	s.Complete()

	got := drain(t, s)
	if len(got) != 100 {
		t.Fatalf("got %d chunks, want 100", len(got))
	}
	for i, c := range got {
		if c != fmt.Sprint(i) {
			t.Fatalf("chunk %d = %q", i, c)
		}
	}
	if s.Err() != nil {
		t.Errorf("Err() = %v, want nil", s.Err())
	}
}

func TestSinkTerminatesOnce(t *testing.T) {
	s := NewSink()
	boom := errors.New("boom")

	if !s.Error(boom) {
		t.Fatal("first terminal call should win")
	}
	if s.Complete() {
		t.Error("Complete after Error should be ignored")
	}
	if s.Next("late") {
		t.Error("Next after termination should be rejected")
	}

	if got := drain(t, s); len(got) != 0 {
		t.Errorf("got %v, want no chunks", got)
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("Err() = %v, want boom", s.Err())
	}
}

func TestSinkCancelDropsPending(t *testing.T) {
	s := NewSink()
	s.Next("a")
	s.Next("b")
	s.Cancel()
	s.Cancel()

	if s.Next("c") {
		t.Error("Next after Cancel should be rejected")
	}
	got := drain(t, s)
	if len(got) > 2 {
		t.Errorf("got %v after cancel", got)
	}
}

func TestSinkConcurrentProducers(t *testing.T) {
	s := NewSink()
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Next("x")
			}
		}()
	}
	done := make(chan []string)
	go func() {
		var got []string
		for c := range s.C() {
			got = append(got, c)
		}
		done <- got
	}()
	wg.Wait()
	s.Complete()

	select {
	case got := <-done:
		if len(got) != 400 {
			t.Errorf("got %d chunks, want 400", len(got))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not finish")
	}
}

func TestRegistryEmitAfterUnregisterIsNoop(t *testing.T) {
	r := NewRegistry()
	s := NewSink()
	if err := r.Register("exec-1", s); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !r.Emit("exec-1", "hello") {
		t.Fatal("Emit to registered sink failed")
	}

	r.Unregister("exec-1")
	r.Unregister("exec-1")

	if r.Emit("exec-1", "ignored") {
		t.Error("Emit after Unregister should report false")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}

	s.Complete()
	got := drain(t, s)
	if len(got) != 1 || got[0] != "hello" {
		t.Errorf("got %v, want [hello]", got)
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("exec-1", NewSink()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	err := r.Register("exec-1", NewSink())
	if err == nil {
		t.Fatal("duplicate Register should fail")
	}
	if !engine.IsConflict(err) || !engine.HasCode(err, "SINK_EXISTS") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestRegistryEmitUnknownID(t *testing.T) {
	r := NewRegistry()
	if r.Emit("missing", "x") {
		t.Error("Emit to unknown id should report false")
	}
}

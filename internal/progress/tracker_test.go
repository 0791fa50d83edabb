package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestTracker_CountsWithoutBar(t *testing.T) {
	tr := newTracker("Tasks", 10, nil)
	if tr.bar != nil {
		t.Fatal("bar created without a writer")
	}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Add(1)
		}()
	}
	wg.Wait()
	if got := tr.Current(); got != 10 {
		t.Errorf("Current = %d, want 10", got)
	}
	tr.Finish()
}

func TestTracker_RendersToWriter(t *testing.T) {
	var buf bytes.Buffer
	tr := newTracker("Documents", 4, &buf)
	if tr.bar == nil {
		t.Fatal("bar not created")
	}
	tr.Add(4)
	tr.bar.Finish()
	if !strings.Contains(buf.String(), "Documents") {
		t.Errorf("output missing label: %q", buf.String())
	}
}

func TestTracker_NilSafe(t *testing.T) {
	var tr *Tracker
	tr.Add(1)
	tr.Describe("x")
	tr.Finish()
	if tr.Current() != 0 {
		t.Error("nil tracker reported progress")
	}
}

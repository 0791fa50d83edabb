package checkpoint

import (
	"fmt"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) (*Store, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend(nil)
	s, err := New(backend, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, backend
}

func TestNew_SavesImmediately(t *testing.T) {
	_, backend := newTestStore(t)
	if backend.Saves() != 1 {
		t.Errorf("saves = %d, want 1", backend.Saves())
	}
	state, _ := backend.Load()
	for _, name := range Phases {
		if got := state.Phases[name].Status; got != StatusPending {
			t.Errorf("phase %s = %s, want pending", name, got)
		}
	}
}

func TestPhaseTransitions(t *testing.T) {
	s, _ := newTestStore(t)

	s.StartPhase(PhaseTasks, 10)
	p := s.Phase(PhaseTasks)
	if p.Status != StatusInProgress || p.ItemsTotal != 10 || p.StartedAt == nil {
		t.Fatalf("after start: %+v", p)
	}

	s.UpdatePhaseProgress(PhaseTasks, 4, -1)
	if p := s.Phase(PhaseTasks); p.ItemsProcessed != 4 || p.ItemsTotal != 10 || p.Status != StatusInProgress {
		t.Errorf("after update: %+v", p)
	}

	s.CompletePhase(PhaseTasks)
	if !s.IsPhaseCompleted(PhaseTasks) {
		t.Fatal("phase not completed")
	}

	// Completed never regresses.
	s.StartPhase(PhaseTasks, 99)
	s.FailPhase(PhaseTasks)
	p = s.Phase(PhaseTasks)
	if p.Status != StatusCompleted || p.ItemsTotal != 10 {
		t.Errorf("completed phase changed: %+v", p)
	}
}

func TestFailPhase(t *testing.T) {
	s, _ := newTestStore(t)
	s.StartPhase(PhaseBoards, 0)
	s.FailPhase(PhaseBoards)
	p := s.Phase(PhaseBoards)
	if p.Status != StatusFailed || p.CompletedAt == nil {
		t.Errorf("after fail: %+v", p)
	}
	if s.IsPhaseCompleted(PhaseBoards) {
		t.Error("failed phase reported completed")
	}
}

func TestPhaseLifecycle_FailedIsTerminal(t *testing.T) {
	backend := NewMemoryBackend(nil)
	s, err := New(backend, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.StartPhase(PhaseTasks, 10)
	s.UpdatePhaseProgress(PhaseTasks, 3, -1)
	s.FailPhase(PhaseTasks)

	// Within a run a failed phase neither restarts nor completes.
	s.StartPhase(PhaseTasks, 20)
	s.CompletePhase(PhaseTasks)
	if p := s.Phase(PhaseTasks); p.Status != StatusFailed || p.ItemsTotal != 10 || p.ItemsProcessed != 3 {
		t.Fatalf("failed phase changed: %+v", p)
	}

	// Resuming resets it to pending; it then runs through to completed.
	resumed, err := New(backend, true)
	if err != nil {
		t.Fatalf("New(resume): %v", err)
	}
	steps := []struct {
		apply func()
		want  PhaseStatus
	}{
		{func() {}, StatusPending},
		{func() { resumed.StartPhase(PhaseTasks, 20) }, StatusInProgress},
		{func() { resumed.CompletePhase(PhaseTasks) }, StatusCompleted},
		{func() { resumed.FailPhase(PhaseTasks) }, StatusCompleted},
		{func() { resumed.StartPhase(PhaseTasks, 1) }, StatusCompleted},
	}
	for i, st := range steps {
		st.apply()
		if got := resumed.Phase(PhaseTasks).Status; got != st.want {
			t.Fatalf("step %d: status = %s, want %s", i, got, st.want)
		}
	}
	if p := resumed.Phase(PhaseTasks); p.ItemsTotal != 20 || p.ItemsProcessed != 0 {
		t.Errorf("counters after restart: %+v", p)
	}
}

func TestCompletedTasksFlushEvery50(t *testing.T) {
	s, backend := newTestStore(t)
	base := backend.Saves()

	for i := 0; i < 49; i++ {
		s.AddCompletedTask(fmt.Sprint(i))
	}
	if backend.Saves() != base {
		t.Errorf("saves after 49 = %d, want %d", backend.Saves(), base)
	}
	s.AddCompletedTask("49")
	if backend.Saves() != base+1 {
		t.Errorf("saves after 50 = %d, want %d", backend.Saves(), base+1)
	}

	s.AddCompletedTask("49")
	if backend.Saves() != base+1 {
		t.Error("duplicate completion caused a save")
	}
	if !s.IsTaskCompleted("7") {
		t.Error("IsTaskCompleted(7) = false")
	}
}

func TestCompletedTasksAreDiscovered(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddDiscoveredTasks([]string{"1", "2"})
	s.AddCompletedTask("3")

	snap := s.Snapshot()
	discovered := toSet(snap.DiscoveredTaskIDs)
	for _, id := range snap.CompletedTaskIDs {
		if _, ok := discovered[id]; !ok {
			t.Errorf("completed task %s not in discovered set", id)
		}
	}
}

func TestDiscoveredSetsDeduplicate(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddDiscoveredTasks([]string{"1", "2", "1"})
	s.AddDiscoveredTasks([]string{"2", "3"})
	s.AddDiscoveredGroups([]string{"g1", "g1"})

	if got := s.DiscoveredTaskIDs(); fmt.Sprint(got) != "[1 2 3]" {
		t.Errorf("DiscoveredTaskIDs = %v, want [1 2 3]", got)
	}
	if got := s.Snapshot().DiscoveredGroupIDs; len(got) != 1 {
		t.Errorf("DiscoveredGroupIDs = %v, want one entry", got)
	}
}

func TestDocumentQueueDedup(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddDocumentToQueue("d1", "t1", "a.pdf")
	s.AddDocumentToQueue("d1", "t2", "b.pdf")
	s.AddDocumentToQueue("d2", "t1", "c.pdf")

	q := s.DocumentQueue()
	if len(q) != 2 {
		t.Fatalf("queue len = %d, want 2", len(q))
	}
	if q[0].TaskID != "t1" || q[0].FileName != "a.pdf" {
		t.Errorf("first entry = %+v, want the first insertion", q[0])
	}
}

func TestAddError(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddError(ErrorEntry{Phase: PhaseProjectDetails, EntityID: "5", StatusCode: 403, Message: "forbidden"})

	errs := s.Snapshot().Errors
	if len(errs) != 1 {
		t.Fatalf("errors = %d, want 1", len(errs))
	}
	if errs[0].Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if errs[0].StatusCode != 403 {
		t.Errorf("StatusCode = %d, want 403", errs[0].StatusCode)
	}
}

func TestResume(t *testing.T) {
	backend := NewMemoryBackend(nil)
	s, err := New(backend, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.SetCompanyID("42")
	s.AddCompletedProject("p1")
	s.AddDiscoveredTasks([]string{"t1", "t2"})
	s.AddCompletedTask("t1")
	s.CompletePhase(PhaseDiscovery)
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	resumed, err := New(backend, true)
	if err != nil {
		t.Fatalf("New(resume): %v", err)
	}
	if resumed.CompanyID() != "42" {
		t.Errorf("CompanyID = %q, want 42", resumed.CompanyID())
	}
	if !resumed.IsProjectCompleted("p1") || !resumed.IsTaskCompleted("t1") || resumed.IsTaskCompleted("t2") {
		t.Error("completed sets not restored")
	}
	if !resumed.IsPhaseCompleted(PhaseDiscovery) {
		t.Error("phase status not restored")
	}

	fresh, err := New(backend, false)
	if err != nil {
		t.Fatalf("New(fresh): %v", err)
	}
	if fresh.IsProjectCompleted("p1") {
		t.Error("fresh store kept prior state")
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s, _ := newTestStore(t)
	s.StartPhase(PhaseCompany, 1)
	snap := s.Snapshot()
	snap.Phases[PhaseCompany].Status = StatusFailed
	snap.DiscoveredTaskIDs = append(snap.DiscoveredTaskIDs, "x")

	if s.Phase(PhaseCompany).Status != StatusInProgress {
		t.Error("snapshot mutation leaked into store")
	}
	if len(s.DiscoveredTaskIDs()) != 0 {
		t.Error("snapshot slice mutation leaked into store")
	}
}

func TestConcurrentMutation(t *testing.T) {
	s, _ := newTestStore(t)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("%d-%d", w, i)
				s.AddDiscoveredTasks([]string{id})
				s.AddCompletedTask(id)
			}
		}(w)
	}
	wg.Wait()

	snap := s.Snapshot()
	if len(snap.CompletedTaskIDs) != 800 || len(snap.DiscoveredTaskIDs) != 800 {
		t.Errorf("completed=%d discovered=%d, want 800 each", len(snap.CompletedTaskIDs), len(snap.DiscoveredTaskIDs))
	}
}

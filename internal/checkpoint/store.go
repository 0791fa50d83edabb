// Package checkpoint persists extraction progress so an interrupted run can
// resume, and records run history and config profiles in SQLite.
package checkpoint

import (
	"fmt"
	"sync"
	"time"

	"github.com/johndauphine/tg-migrate/internal/logging"
)

// taskFlushEvery is how many task completions are batched per save.
const taskFlushEvery = 50

// Store is the goroutine-safe checkpoint of one extraction run. Every
// mutation is persisted immediately except task completions, which are
// flushed every taskFlushEvery additions.
type Store struct {
	mu      sync.Mutex
	backend Backend
	state   *MigrationState
	now     func() time.Time

	completedProjects map[string]struct{}
	completedTasks    map[string]struct{}
	discoveredTasks   map[string]struct{}
	discoveredGroups  map[string]struct{}
	queuedDocs        map[string]struct{}
}

// New creates a store. With resume set, a prior state is loaded when one
// exists; otherwise a fresh state is started. The state is saved before
// New returns.
func New(backend Backend, resume bool) (*Store, error) {
	s := &Store{backend: backend, now: time.Now}

	if resume {
		prior, err := backend.Load()
		if err != nil {
			return nil, fmt.Errorf("loading checkpoint: %w", err)
		}
		if prior != nil {
			prior.normalize()
			for name, p := range prior.Phases {
				if p.Status == StatusFailed {
					logging.Info("Phase %s failed in the previous run; it will run again", name)
					*p = PhaseState{Status: StatusPending}
				}
			}
			s.state = prior
			logging.Info("Resuming from checkpoint (%d projects, %d/%d tasks done)",
				len(prior.CompletedProjectIDs), len(prior.CompletedTaskIDs), len(prior.DiscoveredTaskIDs))
		}
	}
	if s.state == nil {
		s.state = NewMigrationState(s.now().UTC())
	}
	s.buildIndexes()

	if err := s.Save(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) buildIndexes() {
	s.completedProjects = toSet(s.state.CompletedProjectIDs)
	s.completedTasks = toSet(s.state.CompletedTaskIDs)
	s.discoveredTasks = toSet(s.state.DiscoveredTaskIDs)
	s.discoveredGroups = toSet(s.state.DiscoveredGroupIDs)
	s.queuedDocs = make(map[string]struct{}, len(s.state.DocumentQueue))
	for _, d := range s.state.DocumentQueue {
		s.queuedDocs[d.DocID] = struct{}{}
	}
}

func toSet(ids []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m[id] = struct{}{}
	}
	return m
}

// SetRunID records the id of the run owning this state.
func (s *Store) SetRunID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.RunID = id
	s.persist()
}

// Phase returns a copy of the named phase.
func (s *Store) Phase(name string) PhaseState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.phase(name)
}

func (s *Store) phase(name string) *PhaseState {
	p := s.state.Phases[name]
	if p == nil {
		p = &PhaseState{Status: StatusPending}
		s.state.Phases[name] = p
	}
	return p
}

// StartPhase moves a pending phase to in_progress and resets its counters.
// Completed and failed phases are terminal; a failed phase becomes pending
// again only when a resumed store is loaded.
func (s *Store) StartPhase(name string, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.phase(name)
	if p.terminal() {
		return
	}
	now := s.now().UTC()
	*p = PhaseState{Status: StatusInProgress, StartedAt: &now, ItemsTotal: total}
	s.persist()
}

// UpdatePhaseProgress sets counters without changing status. A negative
// total leaves the total unchanged.
func (s *Store) UpdatePhaseProgress(name string, processed, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.phase(name)
	p.ItemsProcessed = processed
	if total >= 0 {
		p.ItemsTotal = total
	}
	s.persist()
}

// CompletePhase marks a phase completed. A terminal phase is left untouched.
func (s *Store) CompletePhase(name string) {
	s.setTerminal(name, StatusCompleted)
}

// FailPhase marks a phase failed. A terminal phase is left untouched.
func (s *Store) FailPhase(name string) {
	s.setTerminal(name, StatusFailed)
}

func (s *Store) setTerminal(name string, status PhaseStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.phase(name)
	if p.terminal() {
		return
	}
	now := s.now().UTC()
	p.Status = status
	p.CompletedAt = &now
	s.persist()
}

// IsPhaseCompleted is the resume guard checked before running a phase.
func (s *Store) IsPhaseCompleted(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase(name).Status == StatusCompleted
}

// AddCompletedProject marks a project done.
func (s *Store) AddCompletedProject(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.completedProjects[id]; ok {
		return
	}
	s.completedProjects[id] = struct{}{}
	s.state.CompletedProjectIDs = append(s.state.CompletedProjectIDs, id)
	s.persist()
}

// IsProjectCompleted reports whether a project was already extracted.
func (s *Store) IsProjectCompleted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.completedProjects[id]
	return ok
}

// AddCompletedTask marks a task done. A task not yet discovered is added to
// the discovered set as well. The state is flushed every 50 completions.
func (s *Store) AddCompletedTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.completedTasks[id]; ok {
		return
	}
	if _, ok := s.discoveredTasks[id]; !ok {
		s.discoveredTasks[id] = struct{}{}
		s.state.DiscoveredTaskIDs = append(s.state.DiscoveredTaskIDs, id)
	}
	s.completedTasks[id] = struct{}{}
	s.state.CompletedTaskIDs = append(s.state.CompletedTaskIDs, id)
	if len(s.state.CompletedTaskIDs)%taskFlushEvery == 0 {
		s.persist()
	}
}

// IsTaskCompleted reports whether a task was already extracted.
func (s *Store) IsTaskCompleted(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.completedTasks[id]
	return ok
}

// AddDiscoveredTasks appends unseen task ids.
func (s *Store) AddDiscoveredTasks(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.discoveredTasks[id]; ok {
			continue
		}
		s.discoveredTasks[id] = struct{}{}
		s.state.DiscoveredTaskIDs = append(s.state.DiscoveredTaskIDs, id)
	}
	s.persist()
}

// AddDiscoveredGroups appends unseen group ids.
func (s *Store) AddDiscoveredGroups(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.discoveredGroups[id]; ok {
			continue
		}
		s.discoveredGroups[id] = struct{}{}
		s.state.DiscoveredGroupIDs = append(s.state.DiscoveredGroupIDs, id)
	}
	s.persist()
}

// DiscoveredTaskIDs returns the discovered task ids in discovery order.
func (s *Store) DiscoveredTaskIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.state.DiscoveredTaskIDs...)
}

// AddDocumentToQueue enqueues a document unless its id is already queued.
// The entry is persisted with the next save.
func (s *Store) AddDocumentToQueue(docID, taskID, fileName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.queuedDocs[docID]; ok {
		return
	}
	s.queuedDocs[docID] = struct{}{}
	s.state.DocumentQueue = append(s.state.DocumentQueue, DocumentQueueEntry{DocID: docID, TaskID: taskID, FileName: fileName})
}

// DocumentQueue returns a copy of the queue.
func (s *Store) DocumentQueue() []DocumentQueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DocumentQueueEntry(nil), s.state.DocumentQueue...)
}

// AddError appends a diagnostic entry. A zero timestamp is set to now.
func (s *Store) AddError(e ErrorEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	s.state.Errors = append(s.state.Errors, e)
	s.persist()
}

// SetCompanyID stores the discovered company id.
func (s *Store) SetCompanyID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.CompanyID = id
	s.persist()
}

// CompanyID returns the discovered company id.
func (s *Store) CompanyID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.CompanyID
}

// Save persists the full state.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() *MigrationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// save writes the state. Callers hold s.mu.
func (s *Store) save() error {
	s.state.LastUpdatedAt = s.now().UTC()
	if err := s.backend.Save(s.state); err != nil {
		return fmt.Errorf("saving checkpoint: %w", err)
	}
	return nil
}

// persist saves and logs a failure. The in-memory state stays authoritative
// and the next successful save catches up.
func (s *Store) persist() {
	if err := s.save(); err != nil {
		logging.Error("%v", err)
	}
}

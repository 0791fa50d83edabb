package checkpoint

import "time"

// PhaseStatus is the lifecycle of one extraction phase.
type PhaseStatus string

const (
	StatusPending    PhaseStatus = "pending"
	StatusInProgress PhaseStatus = "in_progress"
	StatusCompleted  PhaseStatus = "completed"
	StatusFailed     PhaseStatus = "failed"
)

// Phase names, in run order.
const (
	PhaseDiscovery      = "discovery"
	PhaseCompany        = "company"
	PhaseProjects       = "projects"
	PhaseProjectDetails = "projectDetails"
	PhaseTasks          = "tasks"
	PhaseTimeTracking   = "timeTracking"
	PhaseBoards         = "boards"
	PhaseDocuments      = "documents"
	PhaseVerification   = "verification"
)

// Phases lists every phase in run order.
var Phases = []string{
	PhaseDiscovery,
	PhaseCompany,
	PhaseProjects,
	PhaseProjectDetails,
	PhaseTasks,
	PhaseTimeTracking,
	PhaseBoards,
	PhaseDocuments,
	PhaseVerification,
}

// PhaseState tracks one phase.
type PhaseState struct {
	Status         PhaseStatus `json:"status" yaml:"status"`
	StartedAt      *time.Time  `json:"startedAt,omitempty" yaml:"startedAt,omitempty"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty" yaml:"completedAt,omitempty"`
	ItemsProcessed int         `json:"itemsProcessed" yaml:"itemsProcessed"`
	ItemsTotal     int         `json:"itemsTotal" yaml:"itemsTotal"`
}

func (p *PhaseState) terminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusFailed
}

// DocumentQueueEntry is a document waiting to be downloaded.
type DocumentQueueEntry struct {
	DocID    string `json:"docId" yaml:"docId"`
	TaskID   string `json:"taskId" yaml:"taskId"`
	FileName string `json:"fileName" yaml:"fileName"`
}

// ErrorEntry is a diagnostic record. It never gates phase completion.
type ErrorEntry struct {
	Timestamp  time.Time `json:"timestamp" yaml:"timestamp"`
	Phase      string    `json:"phase" yaml:"phase"`
	EntityID   string    `json:"entityId,omitempty" yaml:"entityId,omitempty"`
	Endpoint   string    `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	StatusCode int       `json:"statusCode,omitempty" yaml:"statusCode,omitempty"`
	Message    string    `json:"message" yaml:"message"`
}

// MigrationState is the persisted checkpoint of an extraction run.
type MigrationState struct {
	RunID               string                 `json:"runId,omitempty" yaml:"runId,omitempty"`
	StartedAt           time.Time              `json:"startedAt" yaml:"startedAt"`
	LastUpdatedAt       time.Time              `json:"lastUpdatedAt" yaml:"lastUpdatedAt"`
	CompanyID           string                 `json:"companyId,omitempty" yaml:"companyId,omitempty"`
	Phases              map[string]*PhaseState `json:"phases" yaml:"phases"`
	CompletedProjectIDs []string               `json:"completedProjectIds" yaml:"completedProjectIds"`
	CompletedTaskIDs    []string               `json:"completedTaskIds" yaml:"completedTaskIds"`
	DiscoveredTaskIDs   []string               `json:"discoveredTaskIds" yaml:"discoveredTaskIds"`
	DiscoveredGroupIDs  []string               `json:"discoveredGroupIds" yaml:"discoveredGroupIds"`
	DocumentQueue       []DocumentQueueEntry   `json:"documentQueue" yaml:"documentQueue"`
	Errors              []ErrorEntry           `json:"errors" yaml:"errors"`
}

// NewMigrationState returns a state with every phase pending.
func NewMigrationState(now time.Time) *MigrationState {
	s := &MigrationState{
		StartedAt:           now,
		LastUpdatedAt:       now,
		Phases:              make(map[string]*PhaseState, len(Phases)),
		CompletedProjectIDs: []string{},
		CompletedTaskIDs:    []string{},
		DiscoveredTaskIDs:   []string{},
		DiscoveredGroupIDs:  []string{},
		DocumentQueue:       []DocumentQueueEntry{},
		Errors:              []ErrorEntry{},
	}
	s.normalize()
	return s
}

// normalize fills in phases and slices missing from an older or partial file.
func (s *MigrationState) normalize() {
	if s.Phases == nil {
		s.Phases = make(map[string]*PhaseState, len(Phases))
	}
	for _, name := range Phases {
		if s.Phases[name] == nil {
			s.Phases[name] = &PhaseState{Status: StatusPending}
		}
	}
	if s.CompletedProjectIDs == nil {
		s.CompletedProjectIDs = []string{}
	}
	if s.CompletedTaskIDs == nil {
		s.CompletedTaskIDs = []string{}
	}
	if s.DiscoveredTaskIDs == nil {
		s.DiscoveredTaskIDs = []string{}
	}
	if s.DiscoveredGroupIDs == nil {
		s.DiscoveredGroupIDs = []string{}
	}
	if s.DocumentQueue == nil {
		s.DocumentQueue = []DocumentQueueEntry{}
	}
	if s.Errors == nil {
		s.Errors = []ErrorEntry{}
	}
}

// clone returns a deep copy.
func (s *MigrationState) clone() *MigrationState {
	c := *s
	c.Phases = make(map[string]*PhaseState, len(s.Phases))
	for k, v := range s.Phases {
		p := *v
		if v.StartedAt != nil {
			t := *v.StartedAt
			p.StartedAt = &t
		}
		if v.CompletedAt != nil {
			t := *v.CompletedAt
			p.CompletedAt = &t
		}
		c.Phases[k] = &p
	}
	c.CompletedProjectIDs = append([]string{}, s.CompletedProjectIDs...)
	c.CompletedTaskIDs = append([]string{}, s.CompletedTaskIDs...)
	c.DiscoveredTaskIDs = append([]string{}, s.DiscoveredTaskIDs...)
	c.DiscoveredGroupIDs = append([]string{}, s.DiscoveredGroupIDs...)
	c.DocumentQueue = append([]DocumentQueueEntry{}, s.DocumentQueue...)
	c.Errors = append([]ErrorEntry{}, s.Errors...)
	return &c
}

package importer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// sourceID is a numeric source identifier that may be encoded as a JSON
// number or string. Zero means absent.
type sourceID int64

func (id *sourceID) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	if s == "" || s == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %s", b)
	}
	*id = sourceID(n)
	return nil
}

type personRef struct {
	ID sourceID `json:"id"`
}

type sourceUser struct {
	ID          sourceID        `json:"id"`
	Email       string          `json:"email_address"`
	FirstName   string          `json:"first_name"`
	LastName    string          `json:"last_name"`
	Permissions json.RawMessage `json:"permissions"`
	Pic         *string         `json:"pic"`
}

func (u sourceUser) isAdmin() bool {
	var p string
	return json.Unmarshal(u.Permissions, &p) == nil && p == "admin"
}

type sourceAccess struct {
	ID         sourceID `json:"id"`
	UserID     sourceID `json:"user_id"`
	Permission string   `json:"permission"`
	Status     string   `json:"status"`
	Color      *string  `json:"color"`
}

type sourceProject struct {
	ID                        sourceID       `json:"id"`
	Name                      string         `json:"name"`
	Status                    string         `json:"status"`
	StartDate                 *string        `json:"start_date"`
	EndDate                   *string        `json:"end_date"`
	ChartDays                 []int          `json:"chart_days"`
	DefaultView               string         `json:"default_view"`
	IsTemplate                bool           `json:"is_template"`
	IsStarred                 bool           `json:"is_starred"`
	HasHoursEnabled           bool           `json:"has_hours_enabled"`
	LockMilestoneDates        bool           `json:"lock_milestone_dates"`
	AllowSchedulingOnHolidays bool           `json:"allow_scheduling_on_holidays"`
	InResourceManagement      bool           `json:"in_resource_management"`
	IsDisabled                bool           `json:"is_disabled"`
	CreatedDate               *string        `json:"created_date"`
	Accesses                  []sourceAccess `json:"accesses"`
}

type sourceResource struct {
	ID          sourceID `json:"id"`
	TypeID      sourceID `json:"type_id"`
	Type        string   `json:"type"`
	HoursPerDay *float64 `json:"hours_per_day"`
	TotalHours  *float64 `json:"total_hours"`
	RaciRoles   *string  `json:"raci_roles"`
}

type sourceDependency struct {
	ID          sourceID `json:"id"`
	FromTaskID  sourceID `json:"from_task_id"`
	ToTaskID    sourceID `json:"to_task_id"`
	Type        string   `json:"type"`
	LeadLagTime *int     `json:"lead_lag_time"`
}

// sourceChild is a node of a project's children tree: a group or a task.
type sourceChild struct {
	ID                      sourceID         `json:"id"`
	Name                    string           `json:"name"`
	Type                    string           `json:"type"`
	ProjectID               sourceID         `json:"project_id"`
	ParentGroupID           sourceID         `json:"parent_group_id"`
	WBS                     *string          `json:"wbs"`
	Sort                    *int             `json:"sort"`
	Color                   *string          `json:"color"`
	StartDate               *string          `json:"start_date"`
	EndDate                 *string          `json:"end_date"`
	Days                    *int             `json:"days"`
	PercentComplete         *float64         `json:"percent_complete"`
	EstimatedHours          *float64         `json:"estimated_hours"`
	ActualHours             *float64         `json:"actual_hours"`
	IsCritical              *bool            `json:"is_critical"`
	Slack                   *float64         `json:"slack"`
	IsStarred               bool             `json:"is_starred"`
	IsTimeTrackingEnabled   bool             `json:"is_time_tracking_enabled"`
	IsEstimatedHoursEnabled bool             `json:"is_estimated_hours_enabled"`
	CreatedAt               *string          `json:"created_at"`
	CustomFieldValues       json.RawMessage  `json:"custom_field_values"`
	Resources               []sourceResource `json:"resources"`
	Dependencies            *struct {
		Parents  []sourceDependency `json:"parents"`
		Children []sourceDependency `json:"children"`
	} `json:"dependencies"`
	Children []sourceChild `json:"children"`
}

// walkChildren visits every node of a tree in pre-order without recursion.
func walkChildren(roots []sourceChild, visit func(*sourceChild)) {
	stack := make([]*sourceChild, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, &roots[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		visit(n)
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, &n.Children[i])
		}
	}
}

type sourceChecklistItem struct {
	ID         sourceID `json:"id"`
	Name       string   `json:"name"`
	IsComplete bool     `json:"is_complete"`
	Sort       *int     `json:"sort"`
}

// sourceVersion is one stored version of a document, either attached to a
// comment or listed under a task.
type sourceVersion struct {
	ID          sourceID   `json:"id"`
	DocumentID  sourceID   `json:"document_id"`
	Name        string     `json:"name"`
	FileName    string     `json:"file_name"`
	Size        *int64     `json:"size"`
	MimeType    *string    `json:"mime_type"`
	Hash        *string    `json:"hash"`
	DownloadURL string     `json:"download_url"`
	Description *string    `json:"description"`
	AddedBy     *personRef `json:"added_by"`
	VersionDate *string    `json:"version_date"`
}

func (v sourceVersion) fileName() string {
	switch {
	case v.FileName != "":
		return v.FileName
	case v.Name != "":
		return v.Name
	}
	return "unknown"
}

type sourceDocument struct {
	ID       sourceID        `json:"id"`
	Versions []sourceVersion `json:"versions"`
}

type sourceComment struct {
	ID                sourceID        `json:"id"`
	Message           string          `json:"message"`
	Target            string          `json:"target"`
	TargetID          sourceID        `json:"target_id"`
	ProjectID         sourceID        `json:"project_id"`
	PinDate           *string         `json:"pin_date"`
	AddedBy           *personRef      `json:"added_by"`
	UpdatedBy         *personRef      `json:"updated_by"`
	AddedDate         *string         `json:"added_date"`
	UpdatedAt         *string         `json:"updated_at"`
	AttachedDocuments []sourceVersion `json:"attached_documents"`
}

type sourceTimeBlock struct {
	ID        sourceID `json:"id"`
	TaskID    sourceID `json:"task_id"`
	ProjectID sourceID `json:"project_id"`
	UserID    sourceID `json:"user_id"`
	Type      string   `json:"type"`
	StartTime *string  `json:"start_time"`
	EndTime   *string  `json:"end_time"`
}

type sourceTask struct {
	ID        sourceID `json:"id"`
	ProjectID sourceID `json:"project_id"`
}

package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// flexID accepts an id sent as a JSON number or string.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*f = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("id %s: %w", b, err)
		}
		*f = flexID(n.String())
	}
	return nil
}

type projectRef struct {
	ID   flexID `json:"id"`
	Name string `json:"name"`
}

type taskRef struct {
	ID        flexID `json:"id"`
	Name      string `json:"name"`
	ProjectID flexID `json:"project_id"`
}

// taskIndexEntry is one row of tasks/_index.json.
type taskIndexEntry struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID string `json:"project_id,omitempty"`
}

type documentRef struct {
	ID       flexID `json:"id"`
	FileName string `json:"file_name"`
	Name     string `json:"name"`
}

// queueName is the file name a document is queued under.
func (d documentRef) queueName() string {
	switch {
	case d.FileName != "":
		return d.FileName
	case d.Name != "":
		return d.Name
	}
	return "doc_" + string(d.ID)
}

type documentMeta struct {
	ID       flexID `json:"id"`
	Versions []struct {
		Name        string `json:"name"`
		DownloadURL string `json:"download_url"`
	} `json:"versions"`
}

type childNode struct {
	ID       flexID            `json:"id"`
	Type     string            `json:"type"`
	Children []json.RawMessage `json:"children"`
}

// collectIDs walks a project tree depth first with an explicit stack and
// returns task and group ids in pre-order.
func collectIDs(children []json.RawMessage) (taskIDs, groupIDs []string, err error) {
	stack := make([]json.RawMessage, 0, len(children))
	for i := len(children) - 1; i >= 0; i-- {
		stack = append(stack, children[i])
	}

	for len(stack) > 0 {
		raw := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		var node childNode
		if err := json.Unmarshal(raw, &node); err != nil {
			return nil, nil, fmt.Errorf("decoding project child: %w", err)
		}
		switch node.Type {
		case "task":
			taskIDs = append(taskIDs, string(node.ID))
		case "group":
			groupIDs = append(groupIDs, string(node.ID))
		}
		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, node.Children[i])
		}
	}
	return taskIDs, groupIDs, nil
}

// companyIDFrom derives the company id from a current_user body, trying
// company_id, company.id, companyId and companies[0].id in turn.
func companyIDFrom(user json.RawMessage) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(user, &fields); err != nil {
		return ""
	}
	idOf := func(raw json.RawMessage) string {
		var id flexID
		if err := json.Unmarshal(raw, &id); err != nil {
			return ""
		}
		return string(id)
	}
	nestedID := func(raw json.RawMessage) string {
		var obj struct {
			ID flexID `json:"id"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return ""
		}
		return string(obj.ID)
	}

	if id := idOf(fields["company_id"]); id != "" {
		return id
	}
	if raw, ok := fields["company"]; ok {
		if id := nestedID(raw); id != "" {
			return id
		}
	}
	if id := idOf(fields["companyId"]); id != "" {
		return id
	}
	var companies []json.RawMessage
	if err := json.Unmarshal(fields["companies"], &companies); err == nil && len(companies) > 0 {
		return nestedID(companies[0])
	}
	return ""
}

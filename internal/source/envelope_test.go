package source

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeList(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		keys    []string
		want    int
		wantErr bool
	}{
		{name: "bare array", body: `[{"id":1},{"id":2}]`, want: 2},
		{name: "data envelope", body: `{"data":[{"id":1}]}`, want: 1},
		{name: "empty array", body: `[]`, want: 0},
		{name: "null body", body: `null`, want: 0},
		{name: "null data", body: `{"data":null}`, want: 0},
		{name: "custom key order", body: `{"projects":[{"id":1},{"id":2},{"id":3}],"total":3}`, keys: []string{"projects", "data"}, want: 3},
		{name: "falls through to second key", body: `{"data":[{"id":1}]}`, keys: []string{"projects", "data"}, want: 1},
		{name: "object without key", body: `{"id":1}`, wantErr: true},
		{name: "key holds object", body: `{"data":{"id":1}}`, wantErr: true},
		{name: "scalar", body: `42`, wantErr: true},
		{name: "string", body: `"oops"`, wantErr: true},
		{name: "empty body", body: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := DecodeList(json.RawMessage(tt.body), tt.keys...)
			if tt.wantErr {
				if !errors.Is(err, ErrUnrecognizedEnvelope) {
					t.Fatalf("err = %v, want ErrUnrecognizedEnvelope", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeList: %v", err)
			}
			if len(items) != tt.want {
				t.Errorf("len = %d, want %d", len(items), tt.want)
			}
		})
	}
}

func TestDecodeObject(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantID  float64
		wantErr bool
	}{
		{name: "wrapped", body: `{"data":{"id":7}}`, wantID: 7},
		{name: "bare", body: `{"id":8,"name":"x"}`, wantID: 8},
		{name: "data is not an object", body: `{"id":9,"data":[1,2]}`, wantID: 9},
		{name: "array", body: `[{"id":1}]`, wantErr: true},
		{name: "scalar", body: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := DecodeObject(json.RawMessage(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrUnrecognizedEnvelope) {
					t.Fatalf("err = %v, want ErrUnrecognizedEnvelope", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeObject: %v", err)
			}
			var obj struct {
				ID float64 `json:"id"`
			}
			if err := json.Unmarshal(raw, &obj); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if obj.ID != tt.wantID {
				t.Errorf("id = %v, want %v", obj.ID, tt.wantID)
			}
		})
	}
}

func TestDecodeProjectPage(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantLen   int
		wantTotal int
	}{
		{name: "projects key", body: `{"projects":[{"id":1}],"total":12}`, wantLen: 1, wantTotal: 12},
		{name: "data key", body: `{"data":[{"id":1},{"id":2}],"total":2}`, wantLen: 2, wantTotal: 2},
		{name: "bare array", body: `[{"id":1}]`, wantLen: 1, wantTotal: 0},
		{name: "string total", body: `{"projects":[],"total":"5"}`, wantLen: 0, wantTotal: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := DecodeProjectPage(json.RawMessage(tt.body))
			if err != nil {
				t.Fatalf("DecodeProjectPage: %v", err)
			}
			if len(page.Projects) != tt.wantLen || page.Total != tt.wantTotal {
				t.Errorf("got len=%d total=%d, want len=%d total=%d", len(page.Projects), page.Total, tt.wantLen, tt.wantTotal)
			}
		})
	}
}

package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"testing"
)

// pageGetter serves canned page sizes and records requests.
type pageGetter struct {
	sizes []int
	calls []url.Values
	err   error
	errAt int
}

func (g *pageGetter) Get(_ context.Context, _ string, params url.Values) (json.RawMessage, error) {
	g.calls = append(g.calls, params)
	page, _ := strconv.Atoi(params.Get("page"))
	if g.err != nil && page == g.errAt {
		return nil, g.err
	}
	n := 0
	if page-1 < len(g.sizes) {
		n = g.sizes[page-1]
	}
	items := make([]string, n)
	for i := range items {
		items[i] = fmt.Sprintf(`{"id":%d}`, page*1000+i)
	}
	return json.RawMessage(`{"data":[` + strings.Join(items, ",") + `]}`), nil
}

func TestPaginator_Pages(t *testing.T) {
	tests := []struct {
		name        string
		sizes       []int
		wantBatches []int
		wantCalls   int
	}{
		{name: "short last page", sizes: []int{100, 100, 37}, wantBatches: []int{100, 100, 37}, wantCalls: 3},
		{name: "empty last page", sizes: []int{100, 100, 0}, wantBatches: []int{100, 100}, wantCalls: 3},
		{name: "first page empty", sizes: []int{0}, wantBatches: nil, wantCalls: 1},
		{name: "single short page", sizes: []int{5}, wantBatches: []int{5}, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &pageGetter{sizes: tt.sizes}
			p := NewPaginator(g, "/times", 100, nil)

			var got []int
			for batch, err := range p.Pages(context.Background()) {
				if err != nil {
					t.Fatalf("Pages: %v", err)
				}
				got = append(got, len(batch))
			}

			if fmt.Sprint(got) != fmt.Sprint(tt.wantBatches) {
				t.Errorf("batches = %v, want %v", got, tt.wantBatches)
			}
			if len(g.calls) != tt.wantCalls {
				t.Errorf("calls = %d, want %d", len(g.calls), tt.wantCalls)
			}
		})
	}
}

func TestPaginator_Params(t *testing.T) {
	g := &pageGetter{sizes: []int{2, 1}}
	p := NewPaginator(g, "/boards", 2, url.Values{"status": {"Active"}})
	if _, err := p.All(context.Background()); err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(g.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(g.calls))
	}
	for i, params := range g.calls {
		if got, want := params.Get("page"), strconv.Itoa(i+1); got != want {
			t.Errorf("call %d page = %q, want %q", i, got, want)
		}
		if got := params.Get("per_page"); got != "2" {
			t.Errorf("call %d per_page = %q, want 2", i, got)
		}
		if got := params.Get("status"); got != "Active" {
			t.Errorf("call %d status = %q, want Active", i, got)
		}
	}
}

func TestPaginator_All(t *testing.T) {
	g := &pageGetter{sizes: []int{100, 100, 37}}
	items, err := NewPaginator(g, "/times", 0, nil).All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(items) != 237 {
		t.Errorf("len = %d, want 237", len(items))
	}
}

func TestPaginator_ErrorStops(t *testing.T) {
	boom := errors.New("boom")
	g := &pageGetter{sizes: []int{100, 100, 100}, err: boom, errAt: 2}
	p := NewPaginator(g, "/times", 100, nil)

	batches := 0
	var gotErr error
	for _, err := range p.Pages(context.Background()) {
		if err != nil {
			gotErr = err
			continue
		}
		batches++
	}
	if !errors.Is(gotErr, boom) {
		t.Errorf("err = %v, want boom", gotErr)
	}
	if batches != 1 {
		t.Errorf("batches = %d, want 1", batches)
	}
	if _, err := NewPaginator(&pageGetter{sizes: []int{100}, err: boom, errAt: 2}, "/times", 100, nil).All(context.Background()); !errors.Is(err, boom) {
		t.Errorf("All err = %v, want boom", err)
	}
}

func TestPaginator_EarlyBreak(t *testing.T) {
	g := &pageGetter{sizes: []int{100, 100, 100}}
	p := NewPaginator(g, "/times", 100, nil)
	for range p.Pages(context.Background()) {
		break
	}
	if len(g.calls) != 1 {
		t.Errorf("calls = %d, want 1", len(g.calls))
	}
}

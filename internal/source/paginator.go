package source

import (
	"context"
	"encoding/json"
	"iter"
	"net/url"
	"strconv"

	"github.com/johndauphine/tg-migrate/internal/logging"
)

// DefaultPageSize is the per_page value used when none is configured.
const DefaultPageSize = 100

// Getter fetches a raw response body. *Client implements it.
type Getter interface {
	Get(ctx context.Context, path string, params url.Values) (json.RawMessage, error)
}

// Paginator walks a page/per_page listing endpoint.
type Paginator struct {
	getter  Getter
	path    string
	perPage int
	params  url.Values
}

// NewPaginator creates a paginator over path. params are sent with every
// page request.
func NewPaginator(g Getter, path string, perPage int, params url.Values) *Paginator {
	if perPage <= 0 {
		perPage = DefaultPageSize
	}
	return &Paginator{getter: g, path: path, perPage: perPage, params: params}
}

// Pages yields each non-empty batch in order, starting at page 1. Iteration
// stops after an empty page or a page shorter than the page size. An error
// is yielded once and ends the sequence.
func (p *Paginator) Pages(ctx context.Context) iter.Seq2[[]json.RawMessage, error] {
	return func(yield func([]json.RawMessage, error) bool) {
		for page := 1; ; page++ {
			params := url.Values{}
			for k, v := range p.params {
				params[k] = append([]string(nil), v...)
			}
			params.Set("page", strconv.Itoa(page))
			params.Set("per_page", strconv.Itoa(p.perPage))

			raw, err := p.getter.Get(ctx, p.path, params)
			if err != nil {
				yield(nil, err)
				return
			}
			items, err := DecodeList(raw)
			if err != nil {
				yield(nil, err)
				return
			}
			if len(items) == 0 {
				return
			}
			logging.Debug("Fetched page %d of %s (%d items)", page, p.path, len(items))
			if !yield(items, nil) {
				return
			}
			if len(items) < p.perPage {
				return
			}
		}
	}
}

// All collects every page into one slice.
func (p *Paginator) All(ctx context.Context) ([]json.RawMessage, error) {
	var all []json.RawMessage
	for batch, err := range p.Pages(ctx) {
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}
	logging.Info("Fetched total %d items from %s", len(all), p.path)
	return all, nil
}

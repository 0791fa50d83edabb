package importer

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/johndauphine/tg-migrate/internal/target"
)

// dryRunStore accepts every insert without writing and hands out random
// ids so later steps can resolve references.
type dryRunStore struct {
	mu  sync.Mutex
	ids map[string]map[int64]string
}

func newDryRunStore() *dryRunStore {
	return &dryRunStore{ids: make(map[string]map[int64]string)}
}

func (d *dryRunStore) InsertRows(_ context.Context, table string, cols []string, rows [][]any) error {
	idx := -1
	for i, c := range cols {
		if c == "tg_id" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	byID := d.ids[table]
	if byID == nil {
		byID = make(map[int64]string)
		d.ids[table] = byID
	}
	for _, row := range rows {
		if tgID, ok := row[idx].(int64); ok {
			if _, exists := byID[tgID]; !exists {
				byID[tgID] = uuid.NewString()
			}
		}
	}
	return nil
}

func (d *dryRunStore) LookupIDs(_ context.Context, table, _ string, tgIDs []int64) (map[int64]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[int64]string, len(tgIDs))
	for _, id := range tgIDs {
		if v, ok := d.ids[table][id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (d *dryRunStore) DeleteTenantRows(context.Context, string, string) (int64, error) {
	return 0, nil
}

func (d *dryRunStore) UpsertProfile(context.Context, target.Profile) error {
	return nil
}

type dryRunIdentities struct{}

func (dryRunIdentities) CreateUser(context.Context, target.NewUser) (string, error) {
	return uuid.NewString(), nil
}

func (dryRunIdentities) FindUserByEmail(context.Context, string) (string, error) {
	return "", nil
}

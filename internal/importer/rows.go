package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/johndauphine/tg-migrate/internal/logging"
)

// rowSet holds rows bound for one destination table.
type rowSet struct {
	table string
	cols  []string
	rows  [][]any
}

func newRowSet(table string, cols ...string) *rowSet {
	return &rowSet{table: table, cols: cols}
}

func (r *rowSet) add(vals ...any) {
	if len(vals) != len(r.cols) {
		panic(fmt.Sprintf("%s: %d values for %d columns", r.table, len(vals), len(r.cols)))
	}
	r.rows = append(r.rows, vals)
}

func (r *rowSet) len() int { return len(r.rows) }

func (r *rowSet) col(name string) int {
	for i, c := range r.cols {
		if c == name {
			return i
		}
	}
	return -1
}

// rowJSON renders a row as a column-keyed object, cut to 200 characters,
// for error logs.
func (r *rowSet) rowJSON(row []any) string {
	m := make(map[string]any, len(r.cols))
	for i, c := range r.cols {
		m[c] = row[i]
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%v", row)
	}
	if len(data) > 200 {
		data = data[:200]
	}
	return string(data)
}

// Reasons a row is skipped rather than written.
const (
	skipAlreadyImported = "already_imported"
	skipUnmappedRef     = "unmapped_reference"
	skipUnmappedTask    = "unmapped_task"
	skipSelfReference   = "self_reference"
)

// TableResult counts rows for one destination table. SkipReasons breaks
// Skipped down by reason where one was recorded.
type TableResult struct {
	Table       string
	Inserted    int
	Skipped     int
	Failed      int
	SkipReasons map[string]int
}

// StepResult is the outcome of one import step.
type StepResult struct {
	Key      string
	Name     string
	Tables   []*TableResult
	Duration time.Duration
}

func (s *StepResult) table(name string) *TableResult {
	for _, t := range s.Tables {
		if t.Table == name {
			return t
		}
	}
	t := &TableResult{Table: name}
	s.Tables = append(s.Tables, t)
	return t
}

// Result aggregates the steps of a run.
type Result struct {
	Steps    []*StepResult
	Duration time.Duration
}

// Totals sums the counts of every table across steps, in first-seen order.
func (r *Result) Totals() []TableResult {
	var out []TableResult
	index := make(map[string]int)
	for _, s := range r.Steps {
		for _, t := range s.Tables {
			i, ok := index[t.Table]
			if !ok {
				i = len(out)
				index[t.Table] = i
				out = append(out, TableResult{Table: t.Table})
			}
			out[i].Inserted += t.Inserted
			out[i].Skipped += t.Skipped
			out[i].Failed += t.Failed
		}
	}
	return out
}

// Failed returns the number of rows that could not be written.
func (r *Result) Failed() int {
	n := 0
	for _, t := range r.Totals() {
		n += t.Failed
	}
	return n
}

// Rows returns one summary row per step and table: step, table, inserted,
// skipped, failed and the skip reasons.
func (r *Result) Rows() [][]string {
	var rows [][]string
	for _, s := range r.Steps {
		for _, t := range s.Tables {
			rows = append(rows, []string{
				s.Key, t.Table,
				fmt.Sprint(t.Inserted), fmt.Sprint(t.Skipped), fmt.Sprint(t.Failed),
				t.reasons(),
			})
		}
	}
	return rows
}

// reasons formats SkipReasons as "reason=n" pairs sorted by reason.
func (t *TableResult) reasons() string {
	keys := make([]string, 0, len(t.SkipReasons))
	for k := range t.SkipReasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, t.SkipReasons[k])
	}
	return strings.Join(parts, " ")
}

// tally adds n rows with the given status to a step and the metrics.
func (im *Importer) tally(res *StepResult, table, status string, n int) {
	if n <= 0 {
		return
	}
	t := res.table(table)
	switch status {
	case "inserted":
		t.Inserted += n
	case "skipped":
		t.Skipped += n
	case "failed":
		t.Failed += n
	}
	im.metrics.AddRows(table, status, n)
}

// skip counts n rows of table as skipped for reason.
func (im *Importer) skip(res *StepResult, table, reason string, n int) {
	if n <= 0 {
		return
	}
	im.tally(res, table, "skipped", n)
	t := res.table(table)
	if t.SkipReasons == nil {
		t.SkipReasons = make(map[string]int)
	}
	t.SkipReasons[reason] += n
	logging.Infow("Rows skipped", "table", table, "reason", reason, "count", n)
}

// existing returns the source ids among tgIDs that already have a row in
// table for the tenant. A failed chunk is logged and treated as absent.
func (im *Importer) existing(ctx context.Context, table string, tgIDs []int64) (map[int64]bool, error) {
	found := make(map[int64]bool)
	size := im.opts.LookupChunk
	for i := 0; i < len(tgIDs); i += size {
		end := i + size
		if end > len(tgIDs) {
			end = len(tgIDs)
		}
		ids, err := im.rows.LookupIDs(ctx, table, im.opts.TenantID, tgIDs[i:end])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logging.Error("Failed to check existing %s chunk %d: %v", table, i, err)
			continue
		}
		for tgID := range ids {
			found[tgID] = true
		}
	}
	return found, nil
}

// dropExisting removes the rows whose tg_id is already stored and counts
// them as skipped, so a rerun does not write them twice.
func (im *Importer) dropExisting(ctx context.Context, rs *rowSet, res *StepResult) error {
	idx := rs.col("tg_id")
	if idx < 0 || rs.len() == 0 {
		return nil
	}
	tgIDs := make([]int64, 0, rs.len())
	for _, row := range rs.rows {
		if id, ok := row[idx].(int64); ok {
			tgIDs = append(tgIDs, id)
		}
	}
	found, err := im.existing(ctx, rs.table, tgIDs)
	if err != nil || len(found) == 0 {
		return err
	}
	kept := rs.rows[:0]
	for _, row := range rs.rows {
		if id, ok := row[idx].(int64); ok && found[id] {
			continue
		}
		kept = append(kept, row)
	}
	im.skip(res, rs.table, skipAlreadyImported, rs.len()-len(kept))
	rs.rows = kept
	return nil
}

// write drops rows already stored and inserts the rest.
func (im *Importer) write(ctx context.Context, rs *rowSet, res *StepResult) error {
	if err := im.dropExisting(ctx, rs, res); err != nil {
		return err
	}
	_, err := im.insert(ctx, rs, res)
	return err
}

// insert writes a row set in chunks of the batch size. A failed chunk is
// retried one row at a time so a single bad row does not lose its
// neighbours. Insert failures are logged and counted; only cancellation is
// returned.
func (im *Importer) insert(ctx context.Context, rs *rowSet, res *StepResult) (int, error) {
	total := rs.len()
	if total == 0 {
		return 0, nil
	}
	size := im.opts.BatchSize
	inserted := 0

	for i := 0; i < total; i += size {
		end := i + size
		if end > total {
			end = total
		}
		batch := rs.rows[i:end]

		if err := im.rows.InsertRows(ctx, rs.table, rs.cols, batch); err != nil {
			if ctx.Err() != nil {
				return inserted, ctx.Err()
			}
			logging.Error("[%s] Batch %d error: %v", rs.table, i/size+1, err)
			for _, row := range batch {
				if err := im.rows.InsertRows(ctx, rs.table, rs.cols, [][]any{row}); err != nil {
					if ctx.Err() != nil {
						return inserted, ctx.Err()
					}
					logging.Error("[%s] Single row error: %v %s", rs.table, err, rs.rowJSON(row))
					im.tally(res, rs.table, "failed", 1)
					continue
				}
				inserted++
				im.tally(res, rs.table, "inserted", 1)
			}
		} else {
			inserted += len(batch)
			im.tally(res, rs.table, "inserted", len(batch))
		}

		if total > size {
			logging.Info("[%s] %d/%d", rs.table, end, total)
		}
	}

	logging.Info("[%s] Done: %d/%d inserted", rs.table, inserted, total)
	return inserted, nil
}

// lookup maps source ids to the ids the destination assigned, in chunks.
// A failed chunk is logged and skipped.
func (im *Importer) lookup(ctx context.Context, table, entity string, tgIDs []int64) error {
	size := im.opts.LookupChunk
	for i := 0; i < len(tgIDs); i += size {
		end := i + size
		if end > len(tgIDs) {
			end = len(tgIDs)
		}
		ids, err := im.rows.LookupIDs(ctx, table, im.opts.TenantID, tgIDs[i:end])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Error("Failed to fetch %s ids chunk %d: %v", table, i, err)
			continue
		}
		for tgID, id := range ids {
			im.mapper.Set(entity, tgID, id)
		}
	}
	logging.Info("Mapped %d %s ids", im.mapper.Count(entity), entity)
	return nil
}

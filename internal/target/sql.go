package target

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// maxParams is the headroom under PostgreSQL's 65535 bind parameter limit.
const maxParams = 65000

func qualifyTable(schema, table string) string {
	if schema == "" {
		return pq.QuoteIdentifier(table)
	}
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}

func quoteColumns(cols []string) []string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pq.QuoteIdentifier(c)
	}
	return quoted
}

// buildInsertSQL generates a multi-row insert:
// INSERT INTO schema.table (cols) VALUES ($1, $2, ...), ($N+1, ...), ...
// and returns the flattened arguments.
func buildInsertSQL(schema, table string, cols []string, rows [][]any) (string, []any) {
	numCols := len(cols)
	args := make([]any, 0, len(rows)*numCols)
	tuples := make([]string, len(rows))

	for rowIdx, row := range rows {
		params := make([]string, numCols)
		for colIdx := range cols {
			params[colIdx] = fmt.Sprintf("$%d", rowIdx*numCols+colIdx+1)
			args = append(args, row[colIdx])
		}
		tuples[rowIdx] = "(" + strings.Join(params, ", ") + ")"
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		qualifyTable(schema, table),
		strings.Join(quoteColumns(cols), ", "),
		strings.Join(tuples, ", ")), args
}

// buildUpsertSQL generates a single-row upsert that updates every column
// except the conflict columns.
func buildUpsertSQL(schema, table string, cols, conflictCols []string) string {
	params := make([]string, len(cols))
	for i := range cols {
		params[i] = fmt.Sprintf("$%d", i+1)
	}

	isConflict := make(map[string]bool, len(conflictCols))
	for _, c := range conflictCols {
		isConflict[c] = true
	}
	var sets []string
	for _, c := range cols {
		if !isConflict[c] {
			q := pq.QuoteIdentifier(c)
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		qualifyTable(schema, table),
		strings.Join(quoteColumns(cols), ", "),
		strings.Join(params, ", "),
		strings.Join(quoteColumns(conflictCols), ", "))
	if len(sets) > 0 {
		sb.WriteString(" DO UPDATE SET " + strings.Join(sets, ", "))
	} else {
		sb.WriteString(" DO NOTHING")
	}
	return sb.String()
}

// buildLookupSQL selects (tg_id, id) pairs of a tenant for a set of source
// ids passed as $2.
func buildLookupSQL(schema, table string) string {
	return fmt.Sprintf(`SELECT "tg_id", "id"::text FROM %s WHERE "tenant_id" = $1 AND "tg_id" = ANY($2)`,
		qualifyTable(schema, table))
}

func buildDeleteTenantSQL(schema, table string) string {
	return fmt.Sprintf(`DELETE FROM %s WHERE "tenant_id" = $1`, qualifyTable(schema, table))
}

// rowsPerStatement caps a multi-row insert so it stays under maxParams.
func rowsPerStatement(numCols, numRows int) int {
	if numCols == 0 {
		return numRows
	}
	n := maxParams / numCols
	if n > numRows {
		n = numRows
	}
	if n < 1 {
		n = 1
	}
	return n
}

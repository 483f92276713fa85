package querybuilder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pgsync-go/pgsync/internal/types"
)

// argCollector accumulates positional query parameters and hands back the
// pgx-style "$n" placeholder for each (§4.3.3).
type argCollector struct {
	args []any
}

func (c *argCollector) bind(v any) string {
	c.args = append(c.args, v)
	return fmt.Sprintf("$%d", len(c.args))
}

// rowFiltersSQL renders a list of RowFilter as an OR of AND-ed equalities
// against alias, e.g. (alias.a = $1 AND alias.b = $2) OR (alias.a = $3).
// Returns "" when filters is empty (no restriction).
func rowFiltersSQL(alias string, filters []types.RowFilter, args *argCollector) string {
	if len(filters) == 0 {
		return ""
	}
	var clauses []string
	for _, f := range filters {
		cols := make([]string, 0, len(f))
		for col := range f {
			cols = append(cols, col)
		}
		sort.Strings(cols)

		var conj []string
		for _, col := range cols {
			conj = append(conj, fmt.Sprintf("%s.%s = %s", alias, quoteIdent(col), args.bind(f[col])))
		}
		clauses = append(clauses, "("+strings.Join(conj, " AND ")+")")
	}
	return strings.Join(clauses, " OR ")
}

// rootFiltersSQL renders the root-level filter: the OR-ed RootFilters
// conjoined with xmin bounds and a ctid restriction (§4.3.3).
func rootFiltersSQL(alias string, rf *types.ResyncFilter, args *argCollector) string {
	if rf.Empty() {
		return ""
	}
	var clauses []string

	if row := rowFiltersSQL(alias, rf.RootFilters, args); row != "" {
		clauses = append(clauses, "("+row+")")
	}
	if rf.XminMin != nil {
		clauses = append(clauses, fmt.Sprintf("%s.xmin >= %s", alias, args.bind(*rf.XminMin)))
	}
	if rf.XminMax != nil {
		clauses = append(clauses, fmt.Sprintf("%s.xmin < %s", alias, args.bind(*rf.XminMax)))
	}
	if len(rf.Ctid) > 0 {
		clauses = append(clauses, fmt.Sprintf("%s.ctid = ANY(%s::tid[])", alias, args.bind(ctidLiterals(rf.Ctid))))
	}

	return strings.Join(clauses, " AND ")
}

// ctidLiterals renders a CtidRange as the textual tid literals Postgres
// accepts in a tid[] array: "(page,offset)".
func ctidLiterals(r types.CtidRange) []string {
	pages := make([]int64, 0, len(r))
	for p := range r {
		pages = append(pages, p)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })

	var out []string
	for _, p := range pages {
		offsets := append([]int64(nil), r[p]...)
		sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
		for _, o := range offsets {
			out = append(out, fmt.Sprintf("(%d,%d)", p, o))
		}
	}
	return out
}

func quoteIdent(s string) string {
	return `"` + s + `"`
}

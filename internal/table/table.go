// Package table turns an in-memory collection into one page of rows: a
// case-insensitive substring search, an exact status match, a stable sort and
// a page slice. Every list endpoint uses it with its own View.
package table

import (
	"cmp"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

// StatusAll disables the status filter.
const StatusAll = "all"

const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// DefaultRowsPerPage is used when a query does not specify a page size.
const DefaultRowsPerPage = 10

// View describes how a row type is searched, filtered and sorted.
type View[T any] struct {
	// SearchFields returns the values the free-text filter matches against.
	SearchFields func(T) []string
	// Status returns the row's status. A nil Status makes every status
	// filter other than "all" match nothing.
	Status func(T) string
	// Field returns the value of a sortable column, or nil if the column
	// does not exist.
	Field func(T, string) any
}

// Filters are the two filters every list view carries.
type Filters struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Active reports whether f would remove any rows.
func (f Filters) Active() bool {
	return f.Name != "" || (f.Status != "" && f.Status != StatusAll)
}

// ApplyFilter filters collection by f, then sorts it with comparator. The sort
// is stable and a nil comparator keeps insertion order. The input slice is
// never modified.
func ApplyFilter[T any](collection []T, comparator func(a, b T) int, f Filters, view View[T]) []T {
	needle := strings.ToLower(f.Name)
	out := make([]T, 0, len(collection))
	for _, row := range collection {
		if needle != "" && !matchesAny(view.SearchFields, row, needle) {
			continue
		}
		if f.Status != "" && f.Status != StatusAll {
			if view.Status == nil || view.Status(row) != f.Status {
				continue
			}
		}
		out = append(out, row)
	}
	if comparator != nil {
		slices.SortStableFunc(out, comparator)
	}
	return out
}

func matchesAny[T any](fields func(T) []string, row T, needle string) bool {
	if fields == nil {
		return false
	}
	for _, s := range fields(row) {
		if strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

// Comparator orders rows by the orderBy column. It returns nil when orderBy
// is empty or the view has no Field accessor.
func Comparator[T any](view View[T], order, orderBy string) func(a, b T) int {
	if orderBy == "" || view.Field == nil {
		return nil
	}
	desc := strings.EqualFold(order, OrderDesc)
	return func(a, b T) int {
		c := compareValues(view.Field(a, orderBy), view.Field(b, orderBy))
		if desc {
			return -c
		}
		return c
	}
}

// compareValues orders values of the same kind. Strings compare case
// insensitively; nil sorts first; values of different kinds are equal.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return cmp.Compare(strings.ToLower(x), strings.ToLower(y))
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	}
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return cmp.Compare(fa, fb)
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Paginate returns rows[page*rowsPerPage : page*rowsPerPage+rowsPerPage],
// clamped to the slice. A page past the end yields an empty slice.
func Paginate[T any](rows []T, page, rowsPerPage int) []T {
	if page < 0 || rowsPerPage <= 0 {
		return []T{}
	}
	start := page * rowsPerPage
	if start >= len(rows) {
		return []T{}
	}
	end := min(start+rowsPerPage, len(rows))
	return rows[start:end]
}

// Query is everything a list request can ask for.
type Query struct {
	Filters
	Order       string
	OrderBy     string
	Page        int
	RowsPerPage int
}

// Page is one page of rows plus the number of rows that passed the filters.
type Page[T any] struct {
	Rows        []T     `json:"rows"`
	Total       int     `json:"total"`
	Page        int     `json:"page"`
	RowsPerPage int     `json:"rowsPerPage"`
	Filters     Filters `json:"filters"`
}

// Run filters, sorts and paginates collection.
func Run[T any](collection []T, view View[T], q Query) Page[T] {
	if q.RowsPerPage <= 0 {
		q.RowsPerPage = DefaultRowsPerPage
	}
	filtered := ApplyFilter(collection, Comparator(view, q.Order, q.OrderBy), q.Filters, view)
	return Page[T]{
		Rows:        Paginate(filtered, q.Page, q.RowsPerPage),
		Total:       len(filtered),
		Page:        q.Page,
		RowsPerPage: q.RowsPerPage,
		Filters:     q.Filters,
	}
}

// ParseQuery reads name, status, order, orderBy, page and rowsPerPage from
// request parameters. Malformed numbers fall back to the defaults.
func ParseQuery(v url.Values) Query {
	q := Query{
		Filters: Filters{
			Name:   strings.TrimSpace(v.Get("name")),
			Status: v.Get("status"),
		},
		Order:       strings.ToLower(v.Get("order")),
		OrderBy:     v.Get("orderBy"),
		RowsPerPage: DefaultRowsPerPage,
	}
	if q.Status == "" {
		q.Status = StatusAll
	}
	if q.Order != OrderDesc {
		q.Order = OrderAsc
	}
	if n, err := strconv.Atoi(v.Get("page")); err == nil && n >= 0 {
		q.Page = n
	}
	if n, err := strconv.Atoi(v.Get("rowsPerPage")); err == nil && n > 0 {
		q.RowsPerPage = n
	}
	return q
}

package storage

import (
	"strconv"
	"strings"
)

// PlaceholderStyle selects the parameter marker dialect a Predicate renders.
type PlaceholderStyle int

const (
	// Question renders ? markers (SQLite).
	Question PlaceholderStyle = iota

	// Dollar renders $1..$n markers (PostgreSQL).
	Dollar
)

// Predicate composes optional filter clauses with bound arguments. Query
// text is assembled from fixed fragments and placeholders only; values never
// appear in the SQL string.
type Predicate struct {
	conds []string
	args  []any
}

// NewPredicate returns an empty predicate.
func NewPredicate() *Predicate {
	return &Predicate{}
}

// Add appends one condition written with ? markers and its bound arguments.
func (p *Predicate) Add(cond string, args ...any) *Predicate {
	p.conds = append(p.conds, cond)
	p.args = append(p.args, args...)
	return p
}

// Empty reports whether no conditions were added.
func (p *Predicate) Empty() bool {
	return len(p.conds) == 0
}

// Render joins the conditions with AND and rewrites markers for the given
// style. It returns the clause (without the WHERE keyword) and the bound
// arguments in marker order.
func (p *Predicate) Render(style PlaceholderStyle) (string, []any) {
	clause := strings.Join(p.conds, " AND ")
	if style == Dollar {
		clause = numberMarkers(clause, 1)
	}
	return clause, p.args
}

// NextIndex returns the 1-based dollar index for the first parameter
// appended after this predicate, letting callers add LIMIT or SET
// parameters past the WHERE clause.
func (p *Predicate) NextIndex() int {
	return len(p.args) + 1
}

// Placeholders renders n comma-separated ? markers, for IN (...) lists.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// numberMarkers rewrites each ? in s to $start, $start+1, ...
func numberMarkers(s string, start int) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	n := start
	for i := 0; i < len(s); i++ {
		if s[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

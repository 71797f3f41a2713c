package visibility

import (
	"slices"
	"strings"

	"github.com/lkzdsb-lab/community-feed/internal/model"
)

// term is one node of a predicate tree. It renders to a SQL fragment with gorm-style
// placeholders and evaluates the same condition against a loaded row.
type term interface {
	sql(b *strings.Builder, vars *[]any)
	match(fc *model.FeedCommunity) bool
}

type column struct {
	name string
	get  func(fc *model.FeedCommunity) any
}

var (
	colEntity    = column{"entity_id", func(fc *model.FeedCommunity) any { return fc.EntityID }}
	colCommunity = column{"community_id", func(fc *model.FeedCommunity) any { return fc.CommunityID }}
	colMember    = column{"member_id", func(fc *model.FeedCommunity) any { return fc.MemberID }}
	colStatus    = column{"status", func(fc *model.FeedCommunity) any { return string(fc.Status) }}
	colPriority  = column{"priority", func(fc *model.FeedCommunity) any { return string(fc.Priority) }}
)

type eqTerm struct {
	col column
	val any
}

func (t eqTerm) sql(b *strings.Builder, vars *[]any) {
	b.WriteString(t.col.name)
	b.WriteString(" = ?")
	*vars = append(*vars, t.val)
}

func (t eqTerm) match(fc *model.FeedCommunity) bool { return t.col.get(fc) == t.val }

type inTerm struct {
	col  column
	vals []uint64
}

func (t inTerm) sql(b *strings.Builder, vars *[]any) {
	b.WriteString(t.col.name)
	b.WriteString(" IN ?")
	*vars = append(*vars, t.vals)
}

func (t inTerm) match(fc *model.FeedCommunity) bool {
	v, _ := t.col.get(fc).(uint64)
	return slices.Contains(t.vals, v)
}

type notArchivedTerm struct{}

func (notArchivedTerm) sql(b *strings.Builder, _ *[]any) { b.WriteString("archived_at IS NULL") }

func (notArchivedTerm) match(fc *model.FeedCommunity) bool { return fc.ArchivedAt == nil }

// noneTerm matches nothing; used when the viewer may see no rows at all.
type noneTerm struct{}

func (noneTerm) sql(b *strings.Builder, _ *[]any) { b.WriteString("1 = 0") }

func (noneTerm) match(*model.FeedCommunity) bool { return false }

type andTerm []term

func (t andTerm) sql(b *strings.Builder, vars *[]any) { join(b, vars, t, " AND ") }

func (t andTerm) match(fc *model.FeedCommunity) bool {
	for _, c := range t {
		if !c.match(fc) {
			return false
		}
	}
	return true
}

type orTerm []term

func (t orTerm) sql(b *strings.Builder, vars *[]any) { join(b, vars, t, " OR ") }

func (t orTerm) match(fc *model.FeedCommunity) bool {
	for _, c := range t {
		if c.match(fc) {
			return true
		}
	}
	return false
}

func join(b *strings.Builder, vars *[]any, terms []term, sep string) {
	b.WriteByte('(')
	for i, c := range terms {
		if i > 0 {
			b.WriteString(sep)
		}
		c.sql(b, vars)
	}
	b.WriteByte(')')
}

func eq(col column, v any) term { return eqTerm{col: col, val: v} }

func anyOf(col column, vals []uint64) term {
	if len(vals) == 0 {
		return noneTerm{}
	}
	if len(vals) == 1 {
		return eqTerm{col: col, val: vals[0]}
	}
	return inTerm{col: col, vals: vals}
}

func statusIs(s model.FeedStatus) term { return eq(colStatus, string(s)) }

func and(terms ...term) term {
	for _, t := range terms {
		if _, ok := t.(noneTerm); ok {
			return noneTerm{}
		}
	}
	if len(terms) == 1 {
		return terms[0]
	}
	return andTerm(terms)
}

func or(terms ...term) term {
	kept := terms[:0:0]
	for _, t := range terms {
		if _, ok := t.(noneTerm); !ok {
			kept = append(kept, t)
		}
	}
	switch len(kept) {
	case 0:
		return noneTerm{}
	case 1:
		return kept[0]
	}
	return orTerm(kept)
}

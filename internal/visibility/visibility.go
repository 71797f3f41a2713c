// Package visibility turns a viewer, a scope and optional filters into the predicate
// that selects the feed links the viewer may see.
package visibility

import (
	"slices"
	"strings"

	"github.com/lkzdsb-lab/community-feed/internal/model"
)

type ScopeKind int

const (
	ScopeCommunity ScopeKind = iota
	ScopeCommunities
	ScopeAll
)

// Scope names the communities a query targets. Multi-community scopes only ever reach
// communities the viewer belongs to; ScopeAll means all of them in the tenant.
type Scope struct {
	Kind ScopeKind
	IDs  []uint64
}

func Community(id uint64) Scope { return Scope{Kind: ScopeCommunity, IDs: []uint64{id}} }

func Communities(ids ...uint64) Scope { return Scope{Kind: ScopeCommunities, IDs: ids} }

func All() Scope { return Scope{Kind: ScopeAll} }

// Member is the viewer's accepted membership in one community.
type Member struct {
	MemberID uint64
	Role     model.Role
}

type Input struct {
	EntityID uint64
	// ViewerID is 0 for anonymous viewers.
	ViewerID uint64
	Scope    Scope
	// Members maps community id to the viewer's accepted membership.
	Members map[uint64]Member

	Status   model.FeedStatus
	Priority model.Priority
	// After is the cursor of the previous page, nil for the first page.
	After *Cursor

	// OwnPendingInAggregate also shows the viewer's own pending links in multi-community feeds.
	OwnPendingInAggregate bool
}

// Set is a built predicate. The cursor term is kept apart so totals can ignore it.
type Set struct {
	terms  []term
	cursor term
}

// Build derives the visibility predicate for in.
func Build(in Input) Set {
	terms := []term{eq(colEntity, in.EntityID), notArchivedTerm{}}

	single := in.Scope.Kind == ScopeCommunity
	if single {
		terms = append(terms, anyOf(colCommunity, uniq(in.Scope.IDs)))
	} else {
		// 聚合视图无论按什么状态过滤都只看已加入的社区
		terms = append(terms, anyOf(colCommunity, in.joined()))
	}

	switch {
	case in.Status == "":
		if single {
			terms = append(terms, defaultSingle(in))
		} else {
			terms = append(terms, defaultMulti(in))
		}
	case in.Status == model.FeedPending:
		terms = append(terms, pending(in, single))
	default:
		terms = append(terms, statusIs(in.Status))
	}

	if in.Priority != "" {
		terms = append(terms, eq(colPriority, string(in.Priority)))
	}

	s := Set{terms: terms}
	if in.After != nil {
		s.cursor = afterTerm{c: *in.After}
	}
	return s
}

func defaultSingle(in Input) term {
	approved := statusIs(model.FeedApproved)
	if len(in.Scope.IDs) == 0 {
		return approved
	}
	m, ok := in.member(in.Scope.IDs[0])
	if !ok {
		return approved
	}
	return or(approved, and(statusIs(model.FeedPending), eq(colMember, m.MemberID)))
}

// defaultMulti relies on Build having limited the communities to the joined ones.
func defaultMulti(in Input) term {
	visible := statusIs(model.FeedApproved)
	if in.OwnPendingInAggregate {
		visible = or(visible, and(statusIs(model.FeedPending), anyOf(colMember, in.memberIDs(in.joined()))))
	}
	return visible
}

func pending(in Input, single bool) term {
	if single {
		if len(in.Scope.IDs) == 0 {
			return noneTerm{}
		}
		m, ok := in.member(in.Scope.IDs[0])
		switch {
		case !ok:
			return noneTerm{}
		case m.Role.IsAdminOrManager():
			return statusIs(model.FeedPending)
		default:
			return and(statusIs(model.FeedPending), eq(colMember, m.MemberID))
		}
	}

	var managed, plain []uint64
	for _, cid := range in.joined() {
		if in.Members[cid].Role.IsAdminOrManager() {
			managed = append(managed, cid)
		} else {
			plain = append(plain, cid)
		}
	}
	return and(statusIs(model.FeedPending), or(
		anyOf(colCommunity, managed),
		and(anyOf(colCommunity, plain), anyOf(colMember, in.memberIDs(plain))),
	))
}

func (in Input) member(cid uint64) (Member, bool) {
	if in.ViewerID == 0 {
		return Member{}, false
	}
	m, ok := in.Members[cid]
	return m, ok
}

// joined returns the scoped communities the viewer is a member of, sorted.
func (in Input) joined() []uint64 {
	if in.ViewerID == 0 {
		return nil
	}
	var out []uint64
	if in.Scope.Kind == ScopeAll {
		for cid := range in.Members {
			out = append(out, cid)
		}
	} else {
		for _, cid := range uniq(in.Scope.IDs) {
			if _, ok := in.Members[cid]; ok {
				out = append(out, cid)
			}
		}
	}
	slices.Sort(out)
	return out
}

func (in Input) memberIDs(cids []uint64) []uint64 {
	out := make([]uint64, 0, len(cids))
	for _, cid := range cids {
		out = append(out, in.Members[cid].MemberID)
	}
	slices.Sort(out)
	return out
}

func uniq(ids []uint64) []uint64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// Where renders the full predicate, cursor included, for db.Where(sql, vars...).
func (s Set) Where() (string, []any) {
	if s.cursor == nil {
		return render(s.terms)
	}
	return render(append(slices.Clip(s.terms), s.cursor))
}

// CountWhere renders the predicate without the cursor, for totals.
func (s Set) CountWhere() (string, []any) {
	return render(s.terms)
}

// Match evaluates the full predicate against a loaded link.
func (s Set) Match(fc *model.FeedCommunity) bool {
	if s.cursor != nil && !s.cursor.match(fc) {
		return false
	}
	return andTerm(s.terms).match(fc)
}

// Empty reports whether the predicate can never match.
func (s Set) Empty() bool {
	for _, t := range s.terms {
		if _, ok := t.(noneTerm); ok {
			return true
		}
	}
	return false
}

func render(terms []term) (string, []any) {
	var b strings.Builder
	var vars []any
	for i, t := range terms {
		if i > 0 {
			b.WriteString(" AND ")
		}
		t.sql(&b, &vars)
	}
	return b.String(), vars
}

// Package privilege holds the lesson's privilege code table and the rules that
// decide whether a participant may be granted a code.
package privilege

import (
	"sort"
	"strconv"

	"tradingfloor/errs"
)

// Definition describes one privilege code.
type Definition struct {
	Code          int
	Name          string
	Description   string
	Prerequisites []int // codes that must already be held
	Excludes      []int // codes that cannot be held at the same time
	MaxHolders    int   // zero means unlimited
}

// Set is the collection of codes a participant holds.
type Set map[int]struct{}

// NewSet builds a set from codes.
func NewSet(codes ...int) Set {
	s := make(Set, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

func (s Set) Has(code int) bool {
	_, ok := s[code]
	return ok
}

func (s Set) Add(code int) { s[code] = struct{}{} }

func (s Set) Remove(code int) bool {
	if !s.Has(code) {
		return false
	}
	delete(s, code)
	return true
}

// Codes returns the held codes in ascending order.
func (s Set) Codes() []int {
	out := make([]int, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// Table is the immutable privilege code table of a lesson.
type Table struct {
	defs map[int]Definition
}

// NewTable indexes definitions by code. Exclusions are made symmetric.
func NewTable(defs []Definition) *Table {
	t := &Table{defs: make(map[int]Definition, len(defs))}
	for _, d := range defs {
		t.defs[d.Code] = d
	}
	for _, d := range defs {
		for _, other := range d.Excludes {
			od, ok := t.defs[other]
			if !ok || contains(od.Excludes, d.Code) {
				continue
			}
			od.Excludes = append(append([]int(nil), od.Excludes...), d.Code)
			t.defs[other] = od
		}
	}
	return t
}

// Lookup returns the definition for code.
func (t *Table) Lookup(code int) (Definition, bool) {
	d, ok := t.defs[code]
	return d, ok
}

// CheckGrant decides whether a participant holding held may receive code,
// given the number of other participants currently holding it. It never
// mutates held.
func (t *Table) CheckGrant(held Set, code int, holders int) error {
	def, ok := t.defs[code]
	if !ok {
		return errs.New(errs.UnknownPrivilege, "privilege %d is not defined for this lesson", code)
	}
	if held.Has(code) {
		return nil
	}
	for _, pre := range def.Prerequisites {
		if !held.Has(pre) {
			return errs.New(errs.PrivilegeMissingPrerequisite, "privilege %s requires %s", t.name(code), t.name(pre))
		}
	}
	for _, ex := range def.Excludes {
		if held.Has(ex) {
			return errs.New(errs.PrivilegeConflict, "privilege %s conflicts with held %s", t.name(code), t.name(ex))
		}
	}
	if def.MaxHolders > 0 && holders >= def.MaxHolders {
		return errs.New(errs.PrivilegeCapacity, "privilege %s already has %d of %d holders", t.name(code), holders, def.MaxHolders)
	}
	return nil
}

func (t *Table) name(code int) string {
	if d, ok := t.defs[code]; ok && d.Name != "" {
		return d.Name
	}
	return "#" + strconv.Itoa(code)
}

func contains(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

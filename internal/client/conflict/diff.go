package conflict

import (
	"sort"

	"github.com/iudanet/offsync/internal/models"
)

// WholeEntity stands for the entire value when the versions are not objects
// or when an entity with no comparable fields was deleted on one side.
const WholeEntity = "*"

// diffFields returns the sorted top-level fields whose values differ,
// ignoring audit fields. A field missing on one side counts as different.
func (rs *RuleSet) diffFields(a, b models.Value) []string {
	if a.Kind() != models.KindObject || b.Kind() != models.KindObject {
		if a.Equal(b) {
			return nil
		}
		return []string{WholeEntity}
	}

	seen := make(map[string]struct{})
	var fields []string
	check := func(key string) {
		if _, done := seen[key]; done || rs.isAudit(key) {
			return
		}
		seen[key] = struct{}{}

		av, aok := a.Field(key)
		bv, bok := b.Field(key)
		if aok != bok || !av.Equal(bv) {
			fields = append(fields, key)
		}
	}
	for _, k := range a.Keys() {
		check(k)
	}
	for _, k := range b.Keys() {
		check(k)
	}

	sort.Strings(fields)
	return fields
}

// presentFields lists the non-audit fields of the surviving side of a
// delete/modify conflict.
func (rs *RuleSet) presentFields(v models.Value) []string {
	var fields []string
	for _, k := range v.Keys() {
		if !rs.isAudit(k) {
			fields = append(fields, k)
		}
	}
	if len(fields) == 0 {
		return []string{WholeEntity}
	}
	return fields
}

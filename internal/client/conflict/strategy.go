package conflict

import (
	"fmt"

	"github.com/iudanet/offsync/internal/models"
)

// Уверенность стратегий
const (
	confidenceSideWins = 0.9
	confidenceLatest   = 0.85
	confidenceCopy     = 0.8
	confidenceMerge    = 0.7
	confidenceManual   = 0.0

	// autoResolveThreshold уверенность должна быть строго выше порога
	autoResolveThreshold = 0.8
)

// suggest walks the rules in priority order and returns the first resolution
// a matching rule can produce. Manual is the fallback.
func (rs *RuleSet) suggest(c *models.DataConflict) models.Resolution {
	for _, rule := range rs.Rules {
		if !rule.matches(c) {
			continue
		}
		if res, ok := rs.apply(c, rule.Strategy, rule.Field); ok {
			return res
		}
	}
	return manual()
}

// resolve applies an explicitly chosen strategy.
func (rs *RuleSet) resolve(c *models.DataConflict, strategy models.Strategy) (models.Resolution, error) {
	if strategy == models.StrategyManual {
		return models.Resolution{}, ErrManualResolutionRequired
	}
	res, ok := rs.apply(c, strategy, "")
	if !ok {
		return models.Resolution{}, fmt.Errorf("strategy %s cannot resolve %s conflict on %s/%s: %w",
			strategy, c.ConflictType, c.EntityType, c.EntityID, ErrManualResolutionRequired)
	}
	return res, nil
}

// apply returns false when the strategy cannot decide, so the caller may try
// the next rule.
func (rs *RuleSet) apply(c *models.DataConflict, strategy models.Strategy, field string) (models.Resolution, bool) {
	switch strategy {
	case models.StrategyLocalWins:
		return models.Resolution{
			Strategy:     models.StrategyLocalWins,
			ResolvedData: valueOrNull(c.LocalData),
			Confidence:   confidenceSideWins,
		}, true

	case models.StrategyRemoteWins:
		return models.Resolution{
			Strategy:     models.StrategyRemoteWins,
			ResolvedData: valueOrNull(c.RemoteData),
			Confidence:   confidenceSideWins,
		}, true

	case models.StrategyLatestTimestamp:
		localTS, lok := rs.updatedAt(c.LocalData)
		remoteTS, rok := rs.updatedAt(c.RemoteData)
		if !lok || !rok || localTS.Equal(remoteTS) {
			return models.Resolution{}, false
		}
		res := models.Resolution{Confidence: confidenceLatest}
		if localTS.After(remoteTS) {
			res.Strategy = models.StrategyLocalWins
			res.ResolvedData = valueOrNull(c.LocalData)
		} else {
			res.Strategy = models.StrategyRemoteWins
			res.ResolvedData = valueOrNull(c.RemoteData)
		}
		return res, true

	case models.StrategyMerge:
		if c.LocalData == nil || c.RemoteData == nil {
			return models.Resolution{}, false
		}
		if field != "" {
			lf, lok := c.LocalData.Field(field)
			rf, rok := c.RemoteData.Field(field)
			if !lok || !rok {
				return models.Resolution{}, false
			}
			if _, ok := mergeValues(lf, rf); !ok {
				return models.Resolution{}, false
			}
		}
		merged, ok := mergeValues(*c.LocalData, *c.RemoteData)
		if !ok {
			return models.Resolution{}, false
		}
		return models.Resolution{
			Strategy:                 models.StrategyMerge,
			ResolvedData:             merged,
			Confidence:               confidenceMerge,
			RequiresUserConfirmation: true,
		}, true

	case models.StrategyCreateCopy:
		if c.LocalData == nil {
			return models.Resolution{}, false
		}
		cp := c.LocalData.Without("id")
		return models.Resolution{
			Strategy:     models.StrategyCreateCopy,
			ResolvedData: valueOrNull(c.RemoteData),
			Copy:         &cp,
			Confidence:   confidenceCopy,
		}, true

	case models.StrategyManual:
		return manual(), true
	}
	return models.Resolution{}, false
}

func manual() models.Resolution {
	return models.Resolution{
		Strategy:                 models.StrategyManual,
		ResolvedData:             models.Null(),
		Confidence:               confidenceManual,
		RequiresUserConfirmation: true,
	}
}

// autoResolvable reports whether a resolution may be applied without the user.
func autoResolvable(r *models.Resolution) bool {
	return r != nil && r.Confidence > autoResolveThreshold && !r.RequiresUserConfirmation
}

// mergeValues merges two versions: arrays are unioned without duplicates,
// numbers take the maximum, objects start from local and merge shared fields
// the same way while adding remote-only keys. Other kinds cannot be merged.
func mergeValues(local, remote models.Value) (models.Value, bool) {
	switch {
	case local.Kind() == models.KindArray && remote.Kind() == models.KindArray:
		return unionArrays(local, remote), true

	case local.Kind() == models.KindNumber && remote.Kind() == models.KindNumber:
		l, _ := local.AsNumber()
		r, _ := remote.AsNumber()
		if r > l {
			return remote, true
		}
		return local, true

	case local.Kind() == models.KindObject && remote.Kind() == models.KindObject:
		fields := make(map[string]models.Value, local.Len())
		for _, k := range local.Keys() {
			lv, _ := local.Field(k)
			fields[k] = lv
			if rv, ok := remote.Field(k); ok {
				if merged, ok := mergeField(lv, rv); ok {
					fields[k] = merged
				}
			}
		}
		for _, k := range remote.Keys() {
			if _, ok := fields[k]; !ok {
				rv, _ := remote.Field(k)
				fields[k] = rv
			}
		}
		return models.Object(fields), true
	}
	return models.Value{}, false
}

// mergeField merges a shared field only when it is an array or number pair.
func mergeField(local, remote models.Value) (models.Value, bool) {
	if local.Kind() != remote.Kind() {
		return models.Value{}, false
	}
	if local.Kind() != models.KindArray && local.Kind() != models.KindNumber {
		return models.Value{}, false
	}
	return mergeValues(local, remote)
}

func unionArrays(local, remote models.Value) models.Value {
	litems, _ := local.AsArray()
	ritems, _ := remote.AsArray()

	// Удалённый массив уже содержит все локальные элементы: берём его как есть
	if containsAll(ritems, litems) {
		return remote.Clone()
	}

	out := make([]models.Value, 0, len(litems)+len(ritems))
	contains := func(v models.Value) bool {
		for _, existing := range out {
			if existing.Equal(v) {
				return true
			}
		}
		return false
	}
	for _, items := range [][]models.Value{litems, ritems} {
		for _, item := range items {
			if !contains(item) {
				out = append(out, item)
			}
		}
	}
	return models.Array(out...)
}

func containsAll(set, items []models.Value) bool {
	for _, item := range items {
		found := false
		for _, v := range set {
			if v.Equal(item) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func valueOrNull(v *models.Value) models.Value {
	if v == nil {
		return models.Null()
	}
	return v.Clone()
}

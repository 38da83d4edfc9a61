package conflict

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/iudanet/offsync/internal/models"
)

// AnyEntity matches every entity type in a Rule.
const AnyEntity = "*"

// Rule selects a strategy for an entity type and, optionally, a field.
type Rule struct {
	EntityType string          `yaml:"entity_type"`     // EntityType коллекция или "*"
	Field      string          `yaml:"field,omitempty"` // Field правило применяется, только если поле в конфликте
	Strategy   models.Strategy `yaml:"strategy"`        // Strategy стратегия разрешения
	Priority   int             `yaml:"priority"`        // Priority больше - раньше
}

func (r Rule) matches(c *models.DataConflict) bool {
	if r.EntityType != AnyEntity && r.EntityType != c.EntityType {
		return false
	}
	return r.Field == "" || c.HasField(r.Field)
}

// RuleSet is the runtime rule table of the resolver.
type RuleSet struct {
	Rules           []Rule   `yaml:"rules"`
	CriticalFields  []string `yaml:"critical_fields"`  // поля идентичности, владения и статуса
	ImportantFields []string `yaml:"important_fields"` // поля, влияющие на смысл записи
	AuditFields     []string `yaml:"audit_fields"`     // служебные метки времени, не участвуют в сравнении
	TimestampFields []string `yaml:"timestamp_fields"` // откуда брать время изменения, по порядку

	critical  map[string]struct{}
	important map[string]struct{}
	audit     map[string]struct{}
}

// DefaultRules returns the compiled-in rule table.
func DefaultRules() *RuleSet {
	rs := &RuleSet{
		Rules: []Rule{
			{EntityType: "trips", Strategy: models.StrategyLatestTimestamp, Priority: 100},
			{EntityType: "costs", Strategy: models.StrategyRemoteWins, Priority: 90},
			{EntityType: "maintenance", Field: "parts", Strategy: models.StrategyMerge, Priority: 80},
			{EntityType: AnyEntity, Strategy: models.StrategyLatestTimestamp, Priority: 10},
		},
		CriticalFields:  []string{"id", "ownerId", "userId", "status"},
		ImportantFields: []string{"name", "value", "date", "coordinates"},
		AuditFields:     []string{"createdAt", "updatedAt", "created_at", "updated_at"},
		TimestampFields: []string{"updatedAt", "updated_at"},
	}
	if err := rs.compile(); err != nil {
		panic(err)
	}
	return rs
}

// LoadRules reads a YAML rule table. Sections missing from the file keep
// their defaults.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes a YAML rule table.
func ParseRules(data []byte) (*RuleSet, error) {
	defaults := DefaultRules()
	var rs RuleSet

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rs); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	if rs.Rules == nil {
		rs.Rules = defaults.Rules
	}
	if rs.CriticalFields == nil {
		rs.CriticalFields = defaults.CriticalFields
	}
	if rs.ImportantFields == nil {
		rs.ImportantFields = defaults.ImportantFields
	}
	if rs.AuditFields == nil {
		rs.AuditFields = defaults.AuditFields
	}
	if rs.TimestampFields == nil {
		rs.TimestampFields = defaults.TimestampFields
	}

	if err := rs.compile(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// compile validates the rules, sorts them by priority and builds field sets.
func (rs *RuleSet) compile() error {
	for i, r := range rs.Rules {
		if r.EntityType == "" {
			return fmt.Errorf("rule %d: entity_type is required", i)
		}
		s, err := models.ParseStrategy(string(r.Strategy))
		if err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
		rs.Rules[i].Strategy = s
	}

	sort.SliceStable(rs.Rules, func(i, j int) bool {
		return rs.Rules[i].Priority > rs.Rules[j].Priority
	})

	rs.critical = toSet(rs.CriticalFields)
	rs.important = toSet(rs.ImportantFields)
	rs.audit = toSet(rs.AuditFields)
	return nil
}

func (rs *RuleSet) isAudit(field string) bool {
	_, ok := rs.audit[field]
	return ok
}

// severity classifies a set of conflicted fields.
func (rs *RuleSet) severity(fields []string) models.Severity {
	high := false
	for _, f := range fields {
		if _, ok := rs.critical[f]; ok {
			return models.SeverityCritical
		}
		if _, ok := rs.important[f]; ok {
			high = true
		}
	}
	switch {
	case high:
		return models.SeverityHigh
	case len(fields) > 3:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

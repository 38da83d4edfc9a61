package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Strategy способ разрешения конфликта.
type Strategy string

const (
	StrategyLocalWins       Strategy = "local_wins"
	StrategyRemoteWins      Strategy = "remote_wins"
	StrategyMerge           Strategy = "merge"
	StrategyManual          Strategy = "manual"
	StrategyCreateCopy      Strategy = "create_copy"
	StrategyLatestTimestamp Strategy = "latest_timestamp" // только в правилах; в Resolution превращается в LocalWins/RemoteWins
)

// ParseStrategy parses a strategy name. Both snake_case and the compact
// forms ("localwins", "latest") are accepted.
func ParseStrategy(s string) (Strategy, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "-", "_")
	switch norm {
	case "local_wins", "localwins", "local":
		return StrategyLocalWins, nil
	case "remote_wins", "remotewins", "remote":
		return StrategyRemoteWins, nil
	case "merge":
		return StrategyMerge, nil
	case "manual":
		return StrategyManual, nil
	case "create_copy", "createcopy", "copy":
		return StrategyCreateCopy, nil
	case "latest_timestamp", "latesttimestamp", "latest":
		return StrategyLatestTimestamp, nil
	default:
		return "", fmt.Errorf("unknown resolution strategy %q", s)
	}
}

// ConflictType классификация расхождения.
type ConflictType string

const (
	ConflictVersion         ConflictType = "version"
	ConflictConcurrentEdit  ConflictType = "concurrent_edit"
	ConflictDeletedModified ConflictType = "deleted_modified"
	ConflictField           ConflictType = "field_conflict"
)

// Severity серьёзность конфликта.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the lower-case severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "low":
		*s = SeverityLow
	case "medium":
		*s = SeverityMedium
	case "high":
		*s = SeverityHigh
	case "critical":
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// Resolution предложенное или применённое разрешение конфликта.
// Создаётся резолвером и потребляется один раз драйвером синхронизации или UI.
type Resolution struct {
	Copy                     *Value   `json:"copy,omitempty"`             // Copy локальная версия, которую нужно создать как новую сущность (CreateCopy)
	Strategy                 Strategy `json:"strategy"`                   // Strategy применённая стратегия
	ResolvedData             Value    `json:"resolved_data"`              // ResolvedData итоговые данные сущности
	Confidence               float64  `json:"confidence"`                 // Confidence уверенность в диапазоне [0,1]
	RequiresUserConfirmation bool     `json:"requires_user_confirmation"` // RequiresUserConfirmation нужно подтверждение пользователя
}

// DataConflict представляет обнаруженное расхождение локальной и удалённой версии одной сущности.
// Конфликт с пустым ConflictedFields не существует.
type DataConflict struct {
	DetectedAt          time.Time    `json:"detected_at"`                    // DetectedAt время обнаружения
	LocalData           *Value       `json:"local_data"`                     // LocalData локальная версия (nil - удалена)
	RemoteData          *Value       `json:"remote_data"`                    // RemoteData удалённая версия (nil - удалена)
	BaseData            *Value       `json:"base_data,omitempty"`            // BaseData общий предок, если известен
	SuggestedResolution *Resolution  `json:"suggested_resolution,omitempty"` // SuggestedResolution предложение по правилам
	ID                  string       `json:"id"`                             // ID уникальный идентификатор конфликта (UUID)
	EntityType          string       `json:"entity_type"`                    // EntityType тип сущности (коллекция)
	EntityID            string       `json:"entity_id"`                      // EntityID идентификатор сущности
	ConflictType        ConflictType `json:"conflict_type"`                  // ConflictType классификация
	ConflictedFields    []string     `json:"conflicted_fields"`              // ConflictedFields отсортированное множество полей
	Severity            Severity     `json:"severity"`                       // Severity серьёзность
	AutoResolvable      bool         `json:"auto_resolvable"`                // AutoResolvable можно применить без пользователя
}

// HasField reports whether field is among the conflicted fields.
func (c *DataConflict) HasField(field string) bool {
	i := sort.SearchStrings(c.ConflictedFields, field)
	return i < len(c.ConflictedFields) && c.ConflictedFields[i] == field
}

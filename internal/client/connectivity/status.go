package connectivity

import (
	"context"
	"fmt"
	"strings"
)

// Quality подсказка о качестве соединения.
type Quality string

const (
	QualityUnknown Quality = "unknown"
	QualityPoor    Quality = "poor"
	QualityGood    Quality = "good"
)

// ParseQuality parses a quality hint; empty input means unknown.
func ParseQuality(s string) (Quality, error) {
	switch q := Quality(strings.ToLower(strings.TrimSpace(s))); q {
	case "":
		return QualityUnknown, nil
	case QualityUnknown, QualityPoor, QualityGood:
		return q, nil
	default:
		return "", fmt.Errorf("unknown connection quality %q", s)
	}
}

// Status is a connectivity snapshot.
type Status struct {
	Quality Quality `json:"quality"`
	Online  bool    `json:"online"`
}

// String returns "online (good)" style text.
func (s Status) String() string {
	state := "offline"
	if s.Online {
		state = "online"
	}
	return fmt.Sprintf("%s (%s)", state, s.Quality)
}

// AssumeOnline is the status used when the platform provides no signal.
var AssumeOnline = Status{Online: true, Quality: QualityUnknown}

//go:generate moq -out signal_mock.go . Signal

// Signal is a platform connectivity source.
type Signal interface {
	// Current reads the platform state.
	Current(ctx context.Context) (Status, error)

	// Changes delivers transitions. The channel is closed when the signal stops.
	Changes() <-chan Status
}

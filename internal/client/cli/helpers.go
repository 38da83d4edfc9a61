package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iudanet/offsync/internal/models"
)

// shortID shortens a UUID for tables.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// entityRef formats collection/id; a Create without id shows "(new)".
func entityRef(collection, id string) string {
	if id == "" {
		id = "(new)"
	}
	return collection + "/" + id
}

// ago renders a timestamp relative to now; the zero time is "never".
func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// printJSON writes v indented.
func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// readPayload parses --data. "@path" reads the file, "-" reads stdin.
func readPayload(data string, stdin io.Reader) (models.Value, error) {
	var raw []byte
	switch {
	case data == "":
		return models.Null(), nil
	case data == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return models.Value{}, fmt.Errorf("failed to read payload from stdin: %w", err)
		}
		raw = b
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(data[1:])
		if err != nil {
			return models.Value{}, fmt.Errorf("failed to read payload file: %w", err)
		}
		raw = b
	default:
		raw = []byte(data)
	}

	v, err := models.ParseValue(raw)
	if err != nil {
		return models.Value{}, fmt.Errorf("invalid JSON payload: %w", err)
	}
	return v, nil
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

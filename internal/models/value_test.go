package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue_Kinds(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Kind
	}{
		{"null", `null`, KindNull},
		{"bool", `true`, KindBool},
		{"number", `42.5`, KindNumber},
		{"string", `"trip"`, KindString},
		{"array", `[1,2,3]`, KindArray},
		{"object", `{"a":1}`, KindObject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseValue([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v.Kind())
		})
	}
}

func TestParseValue_Invalid(t *testing.T) {
	_, err := ParseValue([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestValue_Equal(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected bool
	}{
		{"same object different key order", `{"a":1,"b":[1,"x"]}`, `{"b":[1,"x"],"a":1}`, true},
		{"different number", `{"a":1}`, `{"a":2}`, false},
		{"array order matters", `[1,2]`, `[2,1]`, false},
		{"missing field", `{"a":1}`, `{"a":1,"b":null}`, false},
		{"kind mismatch", `"1"`, `1`, false},
		{"nested equal", `{"loc":{"lat":1.5,"lng":2}}`, `{"loc":{"lng":2,"lat":1.5}}`, true},
		{"null equals null", `null`, `null`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := MustParseValue(tt.a)
			b := MustParseValue(tt.b)
			assert.Equal(t, tt.expected, a.Equal(b))
			assert.Equal(t, tt.expected, b.Equal(a), "Equal must be symmetric")
		})
	}
}

func TestValue_MarshalJSON_Canonical(t *testing.T) {
	v := MustParseValue(`{"b":[true,null,"s"],"a":1.25}`)

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1.25,"b":[true,null,"s"]}`, string(data))

	back, err := ParseValue(data)
	require.NoError(t, err)
	assert.True(t, v.Equal(back))
}

func TestValue_CloneIsDeep(t *testing.T) {
	original := MustParseValue(`{"tags":["a"],"nested":{"x":1}}`)
	clone := original.Clone()

	changed := clone.With("tags", Array(String("b")))

	tags, ok := original.Field("tags")
	require.True(t, ok)
	items, ok := tags.AsArray()
	require.True(t, ok)
	require.Len(t, items, 1)
	s, _ := items[0].AsString()
	assert.Equal(t, "a", s)
	assert.False(t, original.Equal(changed))
	assert.True(t, original.Equal(clone))
}

func TestValue_WithAndWithout(t *testing.T) {
	v := Object(map[string]Value{"a": Number(1)})

	with := v.With("b", String("x"))
	assert.Equal(t, []string{"a", "b"}, with.Keys())
	assert.Equal(t, []string{"a"}, v.Keys(), "With must not mutate the receiver")

	without := with.Without("a")
	assert.Equal(t, []string{"b"}, without.Keys())
}

func TestPendingOperation_Validate(t *testing.T) {
	tests := []struct {
		name    string
		op      PendingOperation
		wantErr bool
	}{
		{"create without id", PendingOperation{Kind: OperationCreate, TargetCollection: "trips"}, false},
		{"update without id", PendingOperation{Kind: OperationUpdate, TargetCollection: "trips"}, true},
		{"delete with id", PendingOperation{Kind: OperationDelete, TargetCollection: "trips", TargetID: "t1"}, false},
		{"missing collection", PendingOperation{Kind: OperationCreate}, true},
		{"unknown kind", PendingOperation{Kind: "upsert", TargetCollection: "trips"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMaxAttemptsFor(t *testing.T) {
	assert.Equal(t, 10, MaxAttemptsFor(PriorityCritical))
	assert.Equal(t, 3, MaxAttemptsFor(PriorityHigh))
	assert.Equal(t, 3, MaxAttemptsFor(PriorityNormal))
	assert.Equal(t, 3, MaxAttemptsFor(PriorityLow))
}

func TestPriority_TextRoundTrip(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical} {
		text, err := p.MarshalText()
		require.NoError(t, err)

		var parsed Priority
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, p, parsed)
	}

	var p Priority
	assert.Error(t, p.UnmarshalText([]byte("urgent")))
}

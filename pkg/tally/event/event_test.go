package event_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tallyerrors "github.com/randalmurphal/tally/pkg/tally/errors"
	"github.com/randalmurphal/tally/pkg/tally/event"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{"simple", "button_clicked", true},
		{"with space", "x y", true},
		{"system prefix", "$sys", true},
		{"digits after letter", "step2", true},
		{"max length", "a" + strings.Repeat("b", 254), true},
		{"too long", "a" + strings.Repeat("b", 255), false},
		{"leading digit", "123x", false},
		{"hyphen", "x-y", false},
		{"leading underscore", "_x", false},
		{"empty", "", false},
		{"only dollar", "$", false},
		{"double dollar", "$$x", false},
		{"dollar after start", "x$", false},
		{"dot", "page.view", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := event.ValidateName(tt.input)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			var valErr *tallyerrors.ValidationError
			require.ErrorAs(t, err, &valErr)
			assert.Equal(t, "event name", valErr.Field)
		})
	}
}

func TestNew(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 30, 45, 123456789, time.FixedZone("X", 3600))

	a := event.New("opened", map[string]any{"k": "v"}, "user-1", "sess-1", now)
	b := event.New("opened", map[string]any{"k": "v"}, "user-1", "sess-1", now)

	assert.NotEmpty(t, a.ClientEventID)
	assert.NotEqual(t, a.ClientEventID, b.ClientEventID, "identical content must still get distinct ids")
	assert.Equal(t, time.UTC, a.Timestamp.Location())
	assert.Equal(t, 123*time.Millisecond, time.Duration(a.Timestamp.Nanosecond()))
	assert.Equal(t, "user-1", a.UserID)
	assert.Equal(t, "sess-1", a.SessionID)
}

func TestEventJSON(t *testing.T) {
	now := time.Date(2024, 3, 1, 11, 30, 45, 120_000_000, time.UTC)
	evt := event.New("purchase", map[string]any{"amount": 12.5}, "u", "", now)

	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "purchase", wire["name"])
	assert.Equal(t, "2024-03-01T11:30:45.120Z", wire["timestamp"])
	assert.Equal(t, evt.ClientEventID, wire["client_event_id"])
	assert.NotContains(t, wire, "session_id")

	var decoded event.Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, evt.ClientEventID, decoded.ClientEventID)
	assert.True(t, evt.Timestamp.Equal(decoded.Timestamp))
	assert.Equal(t, json.Number("12.5"), decoded.Properties["amount"])
}

func TestEventJSON_LargeIntegersExact(t *testing.T) {
	const big = int64(1)<<53 + 1
	evt := event.New("order_placed", map[string]any{"order_id": big}, "", "", time.Now())

	data, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded event.Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	n, ok := decoded.Properties["order_id"].(json.Number)
	require.True(t, ok, "numbers decode as json.Number, got %T", decoded.Properties["order_id"])
	got, err := n.Int64()
	require.NoError(t, err)
	assert.Equal(t, big, got)

	again, err := json.Marshal(decoded)
	require.NoError(t, err)
	assert.Contains(t, string(again), `"order_id":9007199254740993`)
}

func TestEventJSON_MissingID(t *testing.T) {
	var e event.Event
	err := json.Unmarshal([]byte(`{"name":"x","timestamp":"2024-03-01T11:30:45.120Z"}`), &e)
	assert.Error(t, err)
}

func TestSanitizeProperties(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, event.SanitizeProperties(nil))
	})

	t.Run("truncates long strings", func(t *testing.T) {
		long := strings.Repeat("é", event.MaxStringLength+50)
		out := event.SanitizeProperties(map[string]any{"s": long})
		s, ok := out["s"].(string)
		require.True(t, ok)
		assert.Equal(t, event.MaxStringLength, len([]rune(s)))
	})

	t.Run("drops containers beyond max depth", func(t *testing.T) {
		props := map[string]any{
			"level1": map[string]any{
				"level2": map[string]any{
					"keep":   "yes",
					"level3": map[string]any{"gone": true},
					"list":   []any{1, 2},
				},
			},
		}
		out := event.SanitizeProperties(props)

		l1 := out["level1"].(map[string]any)
		l2 := l1["level2"].(map[string]any)
		assert.Equal(t, "yes", l2["keep"])
		assert.NotContains(t, l2, "level3")
		assert.NotContains(t, l2, "list")
	})

	t.Run("normalises common types", func(t *testing.T) {
		ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		out := event.SanitizeProperties(map[string]any{
			"time":  ts,
			"tags":  []string{"a", "b"},
			"attrs": map[string]string{"k": "v"},
			"dur":   2 * time.Second,
			"nil":   nil,
		})
		assert.Equal(t, "2024-01-02T03:04:05Z", out["time"])
		assert.Equal(t, []any{"a", "b"}, out["tags"])
		assert.Equal(t, map[string]any{"k": "v"}, out["attrs"])
		assert.Equal(t, "2s", out["dur"])
		assert.Contains(t, out, "nil")
	})

	t.Run("does not alias input", func(t *testing.T) {
		in := map[string]any{"k": "v"}
		out := event.SanitizeProperties(in)
		out["k"] = "changed"
		assert.Equal(t, "v", in["k"])
	})
}

func TestMerge(t *testing.T) {
	super := map[string]any{"plan": "free", "source": "super"}
	caller := map[string]any{"source": "caller", "$platform": "spoofed"}
	system := map[string]any{"$platform": "go"}

	out := event.Merge(super, caller, system)
	assert.Equal(t, "free", out["plan"])
	assert.Equal(t, "caller", out["source"])
	assert.Equal(t, "go", out["$platform"])

	assert.NotNil(t, event.Merge(nil, nil))
}

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"exp":             "exp",
		"newCheckoutFlow": "new_checkout_flow",
		"Pricing-Page v2": "pricing_page_v2",
		"HTTPServer":      "http_server",
		"checkout_v2":     "checkout_v2",
		"  spaced  out ":  "spaced_out",
		"onboarding--A":   "onboarding_a",
		"":                "",
	}
	for in, want := range tests {
		assert.Equal(t, want, event.SnakeCase(in), "SnakeCase(%q)", in)
	}
}

func TestEncodedSize(t *testing.T) {
	assert.Equal(t, len(`{"a":1}`), event.EncodedSize(map[string]any{"a": 1}))
	assert.Equal(t, -1, event.EncodedSize(map[string]any{"bad": make(chan int)}))
}

func TestIsSystemName(t *testing.T) {
	assert.True(t, event.IsSystemName(event.NameIdentify))
	assert.False(t, event.IsSystemName("identify"))
}

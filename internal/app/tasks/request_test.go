package tasks

import (
	"encoding/json"
	"testing"
	"time"
)

func TestID_UnmarshalJSON(t *testing.T) {
	cases := map[string]int64{
		`7`:     7,
		`"12"`:  12,
		`" 3 "`: 3,
		`""`:    0,
		`null`:  0,
	}
	for raw, want := range cases {
		var id ID
		if err := json.Unmarshal([]byte(raw), &id); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if int64(id) != want {
			t.Fatalf("unmarshal %s = %d, want %d", raw, id, want)
		}
	}

	var id ID
	if err := json.Unmarshal([]byte(`"abc"`), &id); err == nil {
		t.Fatalf("expected error for non-numeric id")
	}
}

func TestParseDeadline(t *testing.T) {
	want := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	for _, raw := range []string{"2026-05-04", "2026-05-04T00:00", "2026-05-04 00:00:00", "2026-05-04T02:00:00+02:00"} {
		got, err := parseDeadline(raw)
		if err != nil {
			t.Fatalf("parseDeadline(%q): %v", raw, err)
		}
		if !got.Equal(want) {
			t.Fatalf("parseDeadline(%q) = %v, want %v", raw, got, want)
		}
	}
	if got, err := parseDeadline(""); err != nil || !got.IsZero() {
		t.Fatalf("empty deadline should parse to zero, got %v %v", got, err)
	}
	if _, err := parseDeadline("next friday"); err == nil {
		t.Fatalf("expected error for unparseable deadline")
	}
}

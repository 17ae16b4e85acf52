package domain

import (
	"strings"
	"testing"
)

func TestWorkItemSignature(t *testing.T) {
	item := WorkItem{
		Source: "playergamelogs",
		Keys: []Key{
			{Column: "player_id", Param: "PlayerID", Value: "2544"},
			{Column: "season", Param: "Season", Value: "2023-24"},
		},
		Static: []Param{{Name: "SeasonType", Value: "Regular Season"}, {Name: "LeagueID", Value: "00"}},
	}

	if got := item.Signature(); got != "2544|2023-24" {
		t.Errorf("Signature() = %q, want %q", got, "2544|2023-24")
	}

	params := item.Params()
	want := map[string]string{
		"PlayerID":   "2544",
		"Season":     "2023-24",
		"SeasonType": "Regular Season",
		"LeagueID":   "00",
	}
	if len(params) != len(want) {
		t.Fatalf("Params() has %d entries, want %d", len(params), len(want))
	}
	for k, v := range want {
		if params[k] != v {
			t.Errorf("Params()[%s] = %q, want %q", k, params[k], v)
		}
	}

	if vals := item.Signature().Values(); len(vals) != 2 || vals[1] != "2023-24" {
		t.Errorf("Values() = %v", vals)
	}
}

func TestClassificationMerge(t *testing.T) {
	tests := []struct {
		current, next, want Classification
	}{
		{"", ClassTransient, ClassTransient},
		{ClassTransient, ClassTransient, ClassTransient},
		{ClassTransient, ClassPermanent, ClassPermanent},
		{ClassPermanent, ClassTransient, ClassPermanent},
	}
	for _, tt := range tests {
		if got := tt.current.Merge(tt.next); got != tt.want {
			t.Errorf("%q.Merge(%q) = %q, want %q", tt.current, tt.next, got, tt.want)
		}
	}
}

func TestTruncateMessage(t *testing.T) {
	short := "boom"
	if TruncateMessage(short) != short {
		t.Errorf("short message changed")
	}

	long := strings.Repeat("é", MaxFailureMessage)
	got := TruncateMessage(long)
	if len(got) > MaxFailureMessage {
		t.Errorf("len = %d, want <= %d", len(got), MaxFailureMessage)
	}
	if !strings.HasPrefix(long, got) || strings.ContainsRune(got, '�') {
		t.Errorf("truncation split a rune")
	}
}

func TestParsePriority(t *testing.T) {
	for in, want := range map[string]Priority{"high": PriorityHigh, "": PriorityMedium, "LOW": PriorityLow} {
		got, err := ParsePriority(in)
		if err != nil || got != want {
			t.Errorf("ParsePriority(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Error("expected error for unknown tier")
	}
}

package source

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPSource_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/boxscoretraditionalv2" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("GameID"); got != "0022300001" {
			t.Errorf("GameID = %q", got)
		}
		if got := r.Header.Get("x-nba-stats-origin"); got != "stats" {
			t.Errorf("custom header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"resource": "boxscore",
			"resultSets": [
				{"name": "PlayerStats", "headers": ["GAME_ID", "PLAYER_ID", "PTS", "FG_PCT"], "rowSet": [["0022300001", 2544, 30, 0.512]]},
				{"name": "TeamStats", "headers": ["GAME_ID", "TEAM_ID"], "rowSet": []}
			]
		}`))
	}))
	defer server.Close()

	src := NewHTTPSource(Config{
		BaseURL: server.URL,
		Timeout: time.Second,
		Headers: map[string]string{"x-nba-stats-origin": "stats"},
	})
	rs, err := src.Fetch(context.Background(), "boxscoretraditionalv2", map[string]string{"GameID": "0022300001"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(rs.Tables) != 2 {
		t.Fatalf("tables = %d, want 2", len(rs.Tables))
	}
	players, ok := rs.Table("playerstats")
	if !ok {
		t.Fatal("PlayerStats table missing")
	}
	if n, ok := players.Rows[0][2].(json.Number); !ok || n.String() != "30" {
		t.Errorf("PTS = %#v, want json.Number 30", players.Rows[0][2])
	}
}

func TestHTTPSource_StatusErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer server.Close()

	src := NewHTTPSource(Config{BaseURL: server.URL})
	_, err := src.Fetch(context.Background(), "leaguegamelog", nil)

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d", httpErr.StatusCode)
	}
	if httpErr.RetryAfter != 7*time.Second {
		t.Errorf("retry after = %v, want 7s", httpErr.RetryAfter)
	}
}

func TestParseResultSets(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
		tables  int
	}{
		{name: "null body", body: "null", wantErr: ErrEmptyResponse},
		{name: "empty body", body: "  ", wantErr: ErrEmptyResponse},
		{name: "no result sets", body: `{"resultSets": []}`, wantErr: ErrEmptyResponse},
		{name: "missing envelope", body: `{"message": "ok"}`, wantErr: ErrEmptyResponse},
		{name: "not json", body: `<html>`, wantErr: ErrMalformedResponse},
		{name: "ragged row", body: `{"resultSets":[{"name":"A","headers":["X","Y"],"rowSet":[[1]]}]}`, wantErr: ErrMalformedResponse},
		{name: "single result set object", body: `{"resultSet":{"name":"A","headers":["X"],"rowSet":[[1],[2]]}}`, tables: 1},
		{
			name:   "grouped headers",
			body:   `{"resultSets":{"name":"Shots","headers":[{"name":"SHOT_CATEGORY","columnNames":["A"]},{"columnNames":["ZONE","FGM"]}],"rowSet":[["Paint",4]]}}`,
			tables: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs, err := ParseResultSets([]byte(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(rs.Tables) != tt.tables {
				t.Errorf("tables = %d, want %d", len(rs.Tables), tt.tables)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := parseRetryAfter("3", now); got != 3*time.Second {
		t.Errorf("seconds: got %v", got)
	}
	date := now.Add(10 * time.Second).Format(http.TimeFormat)
	if got := parseRetryAfter(date, now); got != 10*time.Second {
		t.Errorf("date: got %v", got)
	}
	if got := parseRetryAfter("soon", now); got != 0 {
		t.Errorf("garbage: got %v", got)
	}
}

func TestRequiredParams(t *testing.T) {
	src := NewHTTPSource(Config{BaseURL: "http://localhost"})
	src.Declare("commonplayerinfo", []string{"PlayerID", "LeagueID"})

	f := Bind(src, "commonplayerinfo")
	desc, ok := f.(ParamDescriber)
	if !ok {
		t.Fatal("bound fetcher does not describe params")
	}
	params, err := desc.RequiredParams()
	if err != nil || len(params) != 2 {
		t.Errorf("RequiredParams() = %v, %v", params, err)
	}

	if _, err := src.RequiredParams("nope"); !errors.Is(err, ErrUnknownEndpoint) {
		t.Errorf("unknown endpoint err = %v", err)
	}
}

package postgres

import (
	"database/sql/driver"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/vietddude/statsync/internal/core/domain"
)

func TestBuildInsert(t *testing.T) {
	got := buildInsert("nba_box_stats", []string{"game_id", "pts"}, 2, "")
	want := `INSERT INTO "nba_box_stats" ("game_id", "pts") VALUES ($1, $2), ($3, $4)`
	if got != want {
		t.Errorf("buildInsert() =\n%s\nwant\n%s", got, want)
	}
}

func TestUpsertClause(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		key     []string
		want    string
	}{
		{
			name:    "updates non-key columns",
			columns: []string{"team_id", "name", "city"},
			key:     []string{"team_id"},
			want:    `ON CONFLICT ("team_id") DO UPDATE SET "name" = EXCLUDED."name", "city" = EXCLUDED."city"`,
		},
		{
			name:    "only key columns",
			columns: []string{"player_id", "season"},
			key:     []string{"player_id", "season"},
			want:    `ON CONFLICT ("player_id", "season") DO NOTHING`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := upsertClause(tt.columns, tt.key); got != tt.want {
				t.Errorf("upsertClause() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRowsPerStatement(t *testing.T) {
	if got := rowsPerStatement(3); got != maxRowsPerBatch {
		t.Errorf("rowsPerStatement(3) = %d, want %d", got, maxRowsPerBatch)
	}
	if got := rowsPerStatement(200); got != maxParams/200 {
		t.Errorf("rowsPerStatement(200) = %d, want %d", got, maxParams/200)
	}
	if got := rowsPerStatement(maxParams * 2); got != 1 {
		t.Errorf("rowsPerStatement(huge) = %d, want 1", got)
	}
}

func TestIsUndefinedObject(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"pq undefined table", &pq.Error{Code: "42P01"}, true},
		{"pq undefined column wrapped", fmt.Errorf("query: %w", &pq.Error{Code: "42703"}), true},
		{"pgx undefined table", &pgconn.PgError{Code: "42P01"}, true},
		{"pq unique violation", &pq.Error{Code: "23505"}, false},
		{"plain error", fmt.Errorf("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUndefinedObject(tt.err); got != tt.want {
				t.Errorf("isUndefinedObject() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestColumnType(t *testing.T) {
	for in, want := range map[string]string{
		"bigint":            "BIGINT",
		"double precision":  "DOUBLE PRECISION",
		"boolean":           "BOOLEAN",
		"text":              "TEXT",
		"character varying": "TEXT",
	} {
		if got := columnType(in); string(got) != want {
			t.Errorf("columnType(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestCompletionArgs_TableNames(t *testing.T) {
	tests := []struct {
		name   string
		tables []string
		want   any
	}{
		{"valid but empty result", nil, "{}"},
		{"no tables written", []string{}, "{}"},
		{"tables written", []string{"stats_boxscore_playerstats"}, `{"stats_boxscore_playerstats"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := completionArgs(domain.Completion{
				Source:    "boxscore",
				Signature: "0022300001",
				Tables:    tt.tables,
			})
			if len(args) != 7 {
				t.Fatalf("got %d args, want 7", len(args))
			}
			valuer, ok := args[4].(driver.Valuer)
			if !ok {
				t.Fatalf("table_names arg %T is not a driver.Valuer", args[4])
			}
			got, err := valuer.Value()
			if err != nil {
				t.Fatalf("Value() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("table_names = %#v, want %#v", got, tt.want)
			}
		})
	}
}

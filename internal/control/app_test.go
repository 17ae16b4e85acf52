package control

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/statsync/internal/core/config"
	"github.com/vietddude/statsync/internal/core/domain"
	"github.com/vietddude/statsync/internal/indexing/registry"
	redisclient "github.com/vietddude/statsync/internal/infra/redis"
	"github.com/vietddude/statsync/internal/infra/source"
	"github.com/vietddude/statsync/internal/infra/storage"
)

// statsServer answers the two endpoints used by testConfig. Game 0022300001
// is rejected the way the remote rejects an unknown game.
func statsServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/leaguegamelog":
			_, _ = w.Write([]byte(`{"resultSets": [{
				"name": "LeagueGameLog",
				"headers": ["GAME_ID", "GAME_DATE", "MATCHUP"],
				"rowSet": [
					["0022300002", "2023-10-25", "LAL @ DEN"],
					["0022300001", "2023-10-24", "PHX @ GSW"]
				]
			}]}`))
		case "/boxscoretraditionalv2":
			gameID := r.URL.Query().Get("GameID")
			if gameID == "0022300001" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte("Invalid GameID"))
				return
			}
			fmt.Fprintf(w, `{"resultSets": [{
				"name": "PlayerStats",
				"headers": ["GAME_ID", "PLAYER_ID", "PTS"],
				"rowSet": [["%s", 2544, 21], ["%s", 203999, 29]]
			}]}`, gameID, gameID)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func testConfig(baseURL string) *config.AppConfig {
	return &config.AppConfig{
		Source: source.Config{BaseURL: baseURL, Timeout: 2 * time.Second},
		Collector: config.CollectorConfig{
			TablePrefix: "stats",
			Pacing:      config.PacingConfig{MinDelay: time.Millisecond},
			Retry:       config.RetryConfig{MaxAttempts: 1},
		},
		Partitions: []config.PartitionConfig{{Name: "nba"}},
		Datasets: []config.DatasetConfig{
			{
				Name:           "boxscore",
				Endpoint:       "boxscoretraditionalv2",
				PartitionParam: "LeagueID",
				Dimensions: []config.DimensionConfig{
					{Name: "game_id", Param: "GameID", Source: "catalog", CatalogType: "game", Kind: "game_id"},
				},
				Outputs: []config.OutputConfig{{Name: "PlayerStats", Columns: []string{"GAME_ID", "PLAYER_ID"}}},
			},
			{
				Name:           "league_game_log",
				Endpoint:       "leaguegamelog",
				Priority:       "high",
				PartitionParam: "LeagueID",
				Dimensions: []config.DimensionConfig{
					{Name: "season", Param: "Season", Source: "values", Values: []string{"2023-24"}, Kind: "season"},
				},
				Static:  map[string]string{"SeasonType": "Regular Season"},
				Catalog: &config.CatalogConfig{Table: "LeagueGameLog", Type: "game", IDColumn: "GAME_ID", SortColumn: "GAME_DATE"},
			},
		},
	}
}

func TestApp_Lifecycle(t *testing.T) {
	server := statsServer(t)
	defer server.Close()
	ctx := context.Background()

	app, err := NewApp(ctx, testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer app.Stop(ctx)

	games, err := app.RunPass(ctx, "league_game_log", "nba", 0)
	if err != nil {
		t.Fatalf("league_game_log pass failed: %v", err)
	}
	if games.Succeeded != 1 {
		t.Errorf("league_game_log = %+v", games)
	}

	box, err := app.RunPass(ctx, "boxscore", "nba", 0)
	if err != nil {
		t.Fatalf("boxscore pass failed: %v", err)
	}
	if box.Succeeded != 1 || box.Permanent != 1 {
		t.Errorf("boxscore = %+v", box)
	}

	again, err := app.RunPass(ctx, "boxscore", "nba", 0)
	if err != nil {
		t.Fatal(err)
	}
	if again.Planned != 0 {
		t.Errorf("second boxscore pass planned %d items", again.Planned)
	}

	failures, err := app.Failures(ctx, storage.LedgerFilter{Source: "boxscore"})
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 1 || failures[0].Signature != "0022300001" || failures[0].Classification != domain.ClassPermanent {
		t.Errorf("failures = %+v", failures)
	}

	status, err := app.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if len(status.Partitions) != 1 || status.Partitions[0].Identifiers[domain.CatalogGame] != 2 {
		t.Errorf("partitions = %+v", status.Partitions)
	}
	if len(status.Datasets) != 2 || status.Datasets[0].Name != "league_game_log" {
		t.Fatalf("datasets = %+v", status.Datasets)
	}
	if ds := status.Datasets[1]; ds.Collected != 1 || ds.Permanent != 1 {
		t.Errorf("boxscore status = %+v", ds)
	}

	if report := app.Health(ctx); report.SystemStatus != "healthy" {
		t.Errorf("health = %+v", report)
	}
}

func TestApp_Escalate(t *testing.T) {
	server := statsServer(t)
	defer server.Close()
	ctx := context.Background()

	app, err := NewApp(ctx, testConfig(server.URL))
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}

	if err := app.Escalate(ctx, "scoreboard", "x", "nba", "manual"); !errors.Is(err, registry.ErrNotFound) {
		t.Errorf("unknown dataset err = %v", err)
	}

	if _, err := app.RunPass(ctx, "league_game_log", "nba", 0); err != nil {
		t.Fatal(err)
	}
	if err := app.Escalate(ctx, "boxscore", "0022300002", "nba", "bad data upstream"); err != nil {
		t.Fatal(err)
	}

	box, err := app.RunPass(ctx, "boxscore", "nba", 0)
	if err != nil {
		t.Fatal(err)
	}
	if box.Planned != 1 {
		t.Errorf("escalated game should be excluded: %+v", box)
	}
}

func TestApp_RedisUnavailable(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:0")
	cfg.Redis = redisclient.Config{URL: "not-a-redis-url"}

	app, err := NewApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewApp should tolerate a missing redis: %v", err)
	}
	if app.redisClient != nil {
		t.Error("redis client should be disabled")
	}
}

package resolver

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/vietddude/statsync/internal/core/domain"
	"github.com/vietddude/statsync/internal/infra/storage/memory"
)

var nba = domain.Partition{Name: "nba", Code: "00"}

func date(s string) *time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return &t
}

func newCatalog(ids ...domain.Identifier) *memory.CatalogRepo {
	repo := memory.NewCatalogRepo(memory.NewMemoryStorage())
	repo.AddIdentifiers(ids...)
	return repo
}

func signatures(seq func(func(domain.WorkItem) bool)) []string {
	var out []string
	for item := range seq {
		out = append(out, string(item.Signature()))
	}
	return out
}

func TestResolve_SingleDimensionMostRecentFirst(t *testing.T) {
	catalog := newCatalog(
		domain.Identifier{Partition: "nba", Type: domain.CatalogGame, ID: "0022300001", SortKey: date("2023-10-24")},
		domain.Identifier{Partition: "nba", Type: domain.CatalogGame, ID: "0022300003", SortKey: date("2023-10-26")},
		domain.Identifier{Partition: "nba", Type: domain.CatalogGame, ID: "0022300002", SortKey: date("2023-10-25")},
		domain.Identifier{Partition: "wnba", Type: domain.CatalogGame, ID: "1022300001", SortKey: date("2023-06-01")},
	)
	def := domain.Definition{
		Name:           "boxscore",
		Endpoint:       "boxscoretraditionalv2",
		PartitionParam: "LeagueID",
		Dimensions:     []domain.Dimension{{Name: "game_id", Param: "GameID", Source: domain.DimensionCatalog, CatalogType: domain.CatalogGame}},
		Static:         []domain.Param{{Name: "RangeType", Value: "0"}},
	}

	seq, err := New(catalog).Resolve(context.Background(), def, nba)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	got := signatures(seq)
	want := []string{"0022300003", "0022300002", "0022300001"}
	if !slices.Equal(got, want) {
		t.Errorf("signatures = %v, want %v", got, want)
	}

	for item := range seq {
		params := item.Params()
		if params["LeagueID"] != "00" || params["RangeType"] != "0" || params["GameID"] != item.Keys[0].Value {
			t.Errorf("params = %v", params)
		}
		if item.Keys[0].Kind != domain.KindGameID {
			t.Errorf("kind = %q, want game_id", item.Keys[0].Kind)
		}
		if item.Endpoint != "boxscoretraditionalv2" {
			t.Errorf("endpoint = %q", item.Endpoint)
		}
		break
	}
}

func TestResolve_CrossProductWithSeasons(t *testing.T) {
	catalog := newCatalog(
		domain.Identifier{Partition: "nba", Type: domain.CatalogTeam, ID: "1610612747"},
		domain.Identifier{Partition: "nba", Type: domain.CatalogTeam, ID: "1610612744"},
	)
	def := domain.Definition{
		Name: "team_game_log",
		Dimensions: []domain.Dimension{
			{Name: "team_id", Param: "TeamID", Source: domain.DimensionCatalog, CatalogType: domain.CatalogTeam},
			{Name: "season", Param: "Season", Source: domain.DimensionSeasons, FromYear: 2022},
		},
	}
	r := New(catalog)
	r.SetClock(func() time.Time { return time.Date(2024, time.November, 1, 0, 0, 0, 0, time.UTC) })

	seq, err := r.Resolve(context.Background(), def, nba)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	got := signatures(seq)
	want := []string{
		"1610612747|2024-25", "1610612747|2023-24", "1610612747|2022-23",
		"1610612744|2024-25", "1610612744|2023-24", "1610612744|2022-23",
	}
	if !slices.Equal(got, want) {
		t.Errorf("signatures = %v, want %v", got, want)
	}
}

func TestResolve_ObservedSecondary(t *testing.T) {
	catalog := newCatalog(
		domain.Identifier{Partition: "nba", Type: domain.CatalogPlayer, ID: "2544", Secondary: "2023-24"},
		domain.Identifier{Partition: "nba", Type: domain.CatalogPlayer, ID: "2544", Secondary: "2022-23"},
		domain.Identifier{Partition: "nba", Type: domain.CatalogPlayer, ID: "201939", Secondary: "2023-24"},
	)
	def := domain.Definition{
		Name: "player_game_log",
		Dimensions: []domain.Dimension{
			{Name: "player_id", Param: "PlayerID", Source: domain.DimensionCatalog, CatalogType: domain.CatalogPlayer},
			{Name: "season", Param: "Season", Source: domain.DimensionObserved, Kind: domain.KindSeason},
		},
	}

	seq, err := New(catalog).Resolve(context.Background(), def, nba)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	got := signatures(seq)
	want := []string{"2544|2023-24", "2544|2022-23", "201939|2023-24"}
	if !slices.Equal(got, want) {
		t.Errorf("signatures = %v, want %v", got, want)
	}
}

func TestResolve_LazyStop(t *testing.T) {
	var ids []domain.Identifier
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		ids = append(ids, domain.Identifier{Partition: "nba", Type: domain.CatalogPlayer, ID: id})
	}
	def := domain.Definition{
		Name: "career",
		Dimensions: []domain.Dimension{
			{Name: "player_id", Param: "PlayerID", Source: domain.DimensionCatalog, CatalogType: domain.CatalogPlayer},
			{Name: "per_mode", Param: "PerMode", Source: domain.DimensionValues, Values: []string{"Totals", "PerGame"}},
		},
	}
	seq, err := New(newCatalog(ids...)).Resolve(context.Background(), def, nba)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	for range seq {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Errorf("consumed %d items, want 3", n)
	}
}

func TestResolve_CurrentSeasonAndMissingCode(t *testing.T) {
	def := domain.Definition{
		Name:           "standings",
		PartitionParam: "LeagueID",
		Dimensions:     []domain.Dimension{{Name: "season", Param: "Season", Source: domain.DimensionCurrentSeason}},
	}
	r := New(newCatalog())
	r.SetClock(func() time.Time { return time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC) })

	seq, err := r.Resolve(context.Background(), def, domain.Partition{Name: "gleague"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	got := signatures(seq)
	if !slices.Equal(got, []string{"2024-25"}) {
		t.Errorf("signatures = %v", got)
	}

	if _, err := r.Resolve(context.Background(), def, domain.Partition{Name: "euroleague"}); err == nil {
		t.Error("expected error for partition without code")
	}
}

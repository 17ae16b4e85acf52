package redis

import (
	"testing"
)

func TestKeys(t *testing.T) {
	if got := leaseKey("boxscore", "nba"); got != "statsync:lease:boxscore:nba" {
		t.Errorf("leaseKey() = %s", got)
	}
	if got := lastPassKey("boxscore", "wnba"); got != "statsync:last_pass:boxscore:wnba" {
		t.Errorf("lastPassKey() = %s", got)
	}
}

func TestNewClient_InvalidURL(t *testing.T) {
	if _, err := NewClient(Config{URL: "not-a-redis-url"}); err == nil {
		t.Error("expected error for invalid URL")
	}
}

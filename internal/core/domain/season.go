package domain

import (
	"fmt"
	"time"
)

// SeasonLabel formats the season starting in year, e.g. 2023 -> "2023-24".
func SeasonLabel(year int) string {
	return fmt.Sprintf("%d-%02d", year, (year+1)%100)
}

// SeasonStartYear returns the year the season in progress at t started.
// Seasons roll over in October.
func SeasonStartYear(t time.Time) int {
	if t.Month() >= time.October {
		return t.Year()
	}
	return t.Year() - 1
}

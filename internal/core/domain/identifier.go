package domain

import "time"

// Identifier is one entity of the reference catalog.
// Secondary carries an observed companion value, such as the season a player
// appeared in. SortKey is the natural temporal order (game date) when known.
type Identifier struct {
	Partition string
	Type      CatalogType
	ID        string
	Secondary string
	SortKey   *time.Time
}

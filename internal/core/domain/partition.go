package domain

// Partition is a top-level scope of the reference catalog (a league).
type Partition struct {
	Name string `db:"name" json:"name"`
	Code string `db:"code" json:"code"`
}

const (
	PartitionNBA     = "nba"
	PartitionWNBA    = "wnba"
	PartitionGLeague = "gleague"
)

// PartitionCodes maps well-known partition names to the code the remote source expects.
var PartitionCodes = map[string]string{
	PartitionNBA:     "00",
	PartitionWNBA:    "10",
	PartitionGLeague: "20",
}

// CatalogType names a kind of reference entity.
type CatalogType string

const (
	CatalogGame   CatalogType = "game"
	CatalogPlayer CatalogType = "player"
	CatalogTeam   CatalogType = "team"
)

// Valid reports whether t is one of the known catalog types.
func (t CatalogType) Valid() bool {
	switch t {
	case CatalogGame, CatalogPlayer, CatalogTeam:
		return true
	}
	return false
}

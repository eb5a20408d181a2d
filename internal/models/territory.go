package models

// Territory is a municipality (or an association of municipalities) from the
// territory registry. Values are immutable once loaded.
type Territory struct {
	ID        string `json:"id"`
	Name      string `json:"territory_name"`
	StateCode string `json:"state_code"`
	Slug      string `json:"slug"`
}

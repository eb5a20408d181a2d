package models

// LocationLabel marks entities recognized as places.
const LocationLabel = "LOC"

// Entity is a named entity found in a text, with byte offsets into it.
type Entity struct {
	Label string
	Text  string
	Start int
	End   int
	Score float32
}

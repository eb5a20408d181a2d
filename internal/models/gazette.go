package models

import "time"

// Gazette represents an official bulletin as stored in the gazettes index.
// Segments of aggregated gazettes use the same shape.
type Gazette struct {
	ID             int64     `json:"id"`
	FileChecksum   string    `json:"file_checksum"`
	TerritoryID    string    `json:"territory_id"`
	TerritoryName  string    `json:"territory_name"`
	StateCode      string    `json:"state_code"`
	Date           string    `json:"date"`
	EditionNumber  string    `json:"edition_number"`
	SourceText     string    `json:"source_text"`
	IsExtraEdition bool      `json:"is_extra_edition"`
	IsFragmented   bool      `json:"is_fragmented"`
	Processed      bool      `json:"processed"`
	FileRawTxt     string    `json:"file_raw_txt"`
	URL            string    `json:"url"`
	FileURL        string    `json:"file_url"`
	FilePath       string    `json:"file_path"`
	Power          string    `json:"power"`
	ScrapedAt      time.Time `json:"scraped_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewSegment derives the segment of an aggregated gazette attributed to one
// territory. Every field not listed here is inherited from parent.
//
// FileRawTxt is cleared because it points at the parent rendition; the caller
// sets it once the segment text has been uploaded.
func NewSegment(parent Gazette, territory Territory, text, checksum string, chunkCount int) Gazette {
	segment := parent
	segment.TerritoryID = territory.ID
	segment.TerritoryName = territory.Name
	segment.SourceText = text
	segment.FileChecksum = checksum
	segment.IsFragmented = chunkCount > 1
	segment.Processed = true
	segment.FileRawTxt = ""
	return segment
}

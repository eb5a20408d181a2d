package models

import "time"

// Excerpt is a highlighted fragment of a gazette relevant to a theme.
type Excerpt struct {
	ExcerptID           string    `json:"excerpt_id"`
	Excerpt             string    `json:"excerpt"`
	Subthemes           []string  `json:"excerpt_subthemes"`
	EmbeddingScore      *float64  `json:"excerpt_embedding_score,omitempty"`
	SourceIndexID       string    `json:"source_index_id"`
	SourceCreatedAt     time.Time `json:"source_created_at"`
	SourceDatabaseID    int64     `json:"source_database_id"`
	SourceDate          string    `json:"source_date"`
	SourceEditionNumber string    `json:"source_edition_number"`
	SourceFileRawTxt    string    `json:"source_file_raw_txt"`
	SourceIsExtra       bool      `json:"source_is_extra_edition"`
	SourceIsFragmented  bool      `json:"source_is_fragmented"`
	SourceFileChecksum  string    `json:"source_file_checksum"`
	SourceFilePath      string    `json:"source_file_path"`
	SourceFileURL       string    `json:"source_file_url"`
	SourcePower         string    `json:"source_power"`
	SourceProcessed     bool      `json:"source_processed"`
	SourceScrapedAt     time.Time `json:"source_scraped_at"`
	SourceStateCode     string    `json:"source_state_code"`
	SourceTerritoryID   string    `json:"source_territory_id"`
	SourceTerritoryName string    `json:"source_territory_name"`
	SourceURL           string    `json:"source_url"`
}

// NewExcerpt copies the whitelisted source fields of gazette into an excerpt
// record for subtheme.
func NewExcerpt(id, text, subtheme string, gazette Gazette) Excerpt {
	return Excerpt{
		ExcerptID:           id,
		Excerpt:             text,
		Subthemes:           []string{subtheme},
		SourceIndexID:       gazette.FileChecksum,
		SourceCreatedAt:     gazette.CreatedAt,
		SourceDatabaseID:    gazette.ID,
		SourceDate:          gazette.Date,
		SourceEditionNumber: gazette.EditionNumber,
		SourceFileRawTxt:    gazette.FileRawTxt,
		SourceIsExtra:       gazette.IsExtraEdition,
		SourceIsFragmented:  gazette.IsFragmented,
		SourceFileChecksum:  gazette.FileChecksum,
		SourceFilePath:      gazette.FilePath,
		SourceFileURL:       gazette.FileURL,
		SourcePower:         gazette.Power,
		SourceProcessed:     gazette.Processed,
		SourceScrapedAt:     gazette.ScrapedAt,
		SourceStateCode:     gazette.StateCode,
		SourceTerritoryID:   gazette.TerritoryID,
		SourceTerritoryName: gazette.TerritoryName,
		SourceURL:           gazette.URL,
	}
}

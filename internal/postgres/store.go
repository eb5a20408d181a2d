package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
)

// ErrGazetteNotFound is returned when no gazette matches an id and checksum.
var ErrGazetteNotFound = errors.New("gazette not found")

// Store reads territories and gazette metadata from the crawler database.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// OpenDB opens and pings a pgx-backed pool.
func OpenDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// LoadTerritories returns every territory ordered by id.
func (s *Store) LoadTerritories(ctx context.Context) ([]models.Territory, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, state_code
FROM territories
ORDER BY id
`)
	if err != nil {
		return nil, fmt.Errorf("query territories: %w", err)
	}
	defer rows.Close()

	var out []models.Territory
	for rows.Next() {
		var t models.Territory
		if err := rows.Scan(&t.ID, &t.Name, &t.StateCode); err != nil {
			return nil, fmt.Errorf("scan territory: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate territories: %w", err)
	}
	return out, nil
}

// PendingGazettes returns up to limit gazettes not yet processed, oldest id
// first, with their territory metadata.
func (s *Store) PendingGazettes(ctx context.Context, limit int) ([]models.Gazette, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT g.id, g.file_checksum, g.territory_id, t.name, t.state_code, g.date,
	g.edition_number, g.is_extra_edition, g.power, g.file_path, g.file_url,
	g.scraped_at, g.created_at
FROM gazettes g
JOIN territories t ON t.id = g.territory_id
WHERE g.processed = false
ORDER BY g.id
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending gazettes: %w", err)
	}
	defer rows.Close()

	var out []models.Gazette
	for rows.Next() {
		var (
			g       models.Gazette
			date    time.Time
			edition sql.NullString
			power   sql.NullString
			fileURL sql.NullString
		)
		if err := rows.Scan(
			&g.ID, &g.FileChecksum, &g.TerritoryID, &g.TerritoryName, &g.StateCode, &date,
			&edition, &g.IsExtraEdition, &power, &g.FilePath, &fileURL,
			&g.ScrapedAt, &g.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan gazette: %w", err)
		}
		g.Date = date.Format(time.DateOnly)
		g.EditionNumber = edition.String
		g.Power = power.String
		g.FileURL = fileURL.String
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gazettes: %w", err)
	}
	return out, nil
}

// MarkGazetteProcessed flags the gazette row matching both id and checksum.
func (s *Store) MarkGazetteProcessed(ctx context.Context, id int64, checksum string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE gazettes
SET processed = true
WHERE id = $1
AND file_checksum = $2
`, id, checksum)
	if err != nil {
		return fmt.Errorf("mark gazette %d processed: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark gazette %d processed: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: id=%d checksum=%s", ErrGazetteNotFound, id, checksum)
	}
	return nil
}

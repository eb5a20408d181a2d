package territories

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/processing"
)

// Registry is the read-only set of known territories. It is built once per
// process and shared by every worker without locking.
type Registry struct {
	byState      map[string][]models.Territory
	bySlug       map[string]models.Territory
	associations map[string]models.Territory
	size         int
}

// NewRegistry indexes territories by state and slug, keeping load order within
// each state. Every state gets an association pseudo-territory: the loaded
// one when its id carries the aggregated suffix, a synthetic one otherwise.
func NewRegistry(list []models.Territory) *Registry {
	r := &Registry{
		byState:      make(map[string][]models.Territory),
		bySlug:       make(map[string]models.Territory, len(list)),
		associations: make(map[string]models.Territory),
	}

	prefixes := make(map[string]string)
	for _, t := range list {
		t.StateCode = strings.ToUpper(strings.TrimSpace(t.StateCode))
		if t.Slug == "" {
			t.Slug = processing.TerritorySlug(t.Name, t.StateCode)
		}
		r.bySlug[t.Slug] = t
		r.size++

		if processing.IsAggregated(t.ID) {
			r.associations[t.StateCode] = t
			continue
		}
		r.byState[t.StateCode] = append(r.byState[t.StateCode], t)
		if _, ok := prefixes[t.StateCode]; !ok && len(t.ID) >= 2 {
			prefixes[t.StateCode] = t.ID[:2]
		}
	}

	for state, prefix := range prefixes {
		if _, ok := r.associations[state]; ok {
			continue
		}
		assoc := syntheticAssociation(state, prefix)
		r.associations[state] = assoc
		r.bySlug[assoc.Slug] = assoc
	}

	return r
}

func syntheticAssociation(stateCode, prefix string) models.Territory {
	name := "Associação de Municípios"
	id := ""
	if prefix != "" {
		id = prefix + processing.AggregatedSuffix
	}
	return models.Territory{
		ID:        id,
		Name:      name,
		StateCode: stateCode,
		Slug:      processing.TerritorySlug(name, stateCode),
	}
}

// Len returns the number of loaded territories.
func (r *Registry) Len() int {
	return r.size
}

// ForState returns the municipalities of stateCode in load order.
func (r *Registry) ForState(stateCode string) []models.Territory {
	return r.byState[strings.ToUpper(strings.TrimSpace(stateCode))]
}

// BySlug looks a territory up by its slug.
func (r *Registry) BySlug(slug string) (models.Territory, error) {
	t, ok := r.bySlug[slug]
	if !ok {
		return models.Territory{}, fmt.Errorf("%w: %s", models.ErrTerritoryNotFound, slug)
	}
	return t, nil
}

// Association returns the pseudo-territory covering a whole aggregated
// gazette of stateCode. For a state absent from the registry the result is
// synthetic and unknown to BySlug.
func (r *Registry) Association(stateCode string) models.Territory {
	code := strings.ToUpper(strings.TrimSpace(stateCode))
	if t, ok := r.associations[code]; ok {
		return t
	}
	return syntheticAssociation(code, "")
}

// States lists the state codes with at least one municipality.
func (r *Registry) States() []string {
	out := make([]string, 0, len(r.byState))
	for state := range r.byState {
		out = append(out, state)
	}
	return out
}

// LoadCSV reads territories from a CSV with an "id,territory_name,state_code"
// header.
func LoadCSV(in io.Reader) ([]models.Territory, error) {
	reader := csv.NewReader(in)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"id", "territory_name", "state_code"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("csv header missing column %q", required)
		}
	}

	var out []models.Territory
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv record: %w", err)
		}
		out = append(out, models.Territory{
			ID:        strings.TrimSpace(record[cols["id"]]),
			Name:      strings.TrimSpace(record[cols["territory_name"]]),
			StateCode: strings.TrimSpace(record[cols["state_code"]]),
		})
	}
	return out, nil
}

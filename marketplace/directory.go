// Package marketplace connects clients with lawyers: the lawyer directory,
// engagement requests with their offers, and consultation bookings.
package marketplace

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"

	"contractflow/catalog"
)

// ErrNotFound signals the requested lawyer does not exist.
var ErrNotFound = errors.New("marketplace: not found")

// ListParams narrows a directory listing.
type ListParams struct {
	Limit     int
	Specialty string
}

// ProfileReader abstracts directory lookups for the service.
type ProfileReader interface {
	GetByID(ctx context.Context, id string) (Profile, error)
	List(ctx context.Context, params ListParams) ([]Profile, error)
}

// Directory keeps lawyer profiles in memory, seeded from the catalog.
type Directory struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewDirectory seeds the directory with the catalog lawyers.
func NewDirectory(cat *catalog.Catalog) *Directory {
	d := &Directory{profiles: make(map[string]Profile)}
	if cat == nil {
		return d
	}
	for _, l := range cat.Lawyers {
		d.profiles[l.ID] = Profile{
			ID:          l.ID,
			Name:        l.Name,
			Specialties: append([]string(nil), l.Specialties...),
			Languages:   append([]string(nil), l.Languages...),
			HourlyRate:  l.HourlyRate,
			Rating:      l.Rating,
			Verified:    l.Verified,
		}
	}
	return d
}

// Upsert adds or replaces a profile, e.g. when a lawyer account registers.
func (d *Directory) Upsert(p Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles[p.ID] = p
}

// GetByID fetches a lawyer profile by id.
func (d *Directory) GetByID(_ context.Context, id string) (Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

// List fetches up to limit profiles ordered by name, optionally only those
// with the given specialty.
func (d *Directory) List(_ context.Context, params ListParams) ([]Profile, error) {
	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	specialty := strings.ToLower(strings.TrimSpace(params.Specialty))

	d.mu.RLock()
	out := make([]Profile, 0, len(d.profiles))
	for _, p := range d.profiles {
		if specialty != "" && !slices.Contains(p.Specialties, specialty) {
			continue
		}
		out = append(out, p)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Package registry is the client registry: fuzzy lookup of existing clients
// and duplicate-free creation of new ones.
//
// Deduplication is enforced by the store's atomic insert-or-get primitive on
// the normalized name key, never by a read-then-write in this package.
package registry

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	rerrors "github.com/hurttlocker/roster/internal/errors"
	"github.com/hurttlocker/roster/internal/logging"
	"github.com/hurttlocker/roster/internal/similarity"
	"github.com/hurttlocker/roster/internal/store"
)

// DefaultSuggestFloor is the minimum confidence for a match to be offered.
const DefaultSuggestFloor = 0.55

// ClientStore is the storage the registry needs.
type ClientStore interface {
	InsertOrGetClient(ctx context.Context, name, nameKey string) (*store.Client, bool, error)
	GetClient(ctx context.Context, id int64) (*store.Client, error)
	GetClientByKey(ctx context.Context, nameKey string) (*store.Client, error)
	ListClients(ctx context.Context, opts store.ListOpts) ([]*store.Client, error)
	UpdateClient(ctx context.Context, c *store.Client) error
}

// MatchCandidate is the single best existing client for a query.
type MatchCandidate struct {
	ClientID   int64   `json:"client_id"`
	ClientName string  `json:"client_name"`
	Confidence float64 `json:"confidence"`
}

// Options configures a Registry.
type Options struct {
	// SuggestFloor is the minimum confidence FindBestMatch returns.
	// Zero means DefaultSuggestFloor.
	SuggestFloor float64
	Logger       *zerolog.Logger
}

// Registry resolves names to clients.
type Registry struct {
	store ClientStore
	floor float64
	log   *zerolog.Logger
}

// New creates a Registry over the given store.
func New(s ClientStore, opts Options) *Registry {
	floor := opts.SuggestFloor
	if floor <= 0 || floor > 1 {
		floor = DefaultSuggestFloor
	}
	return &Registry{store: s, floor: floor, log: logging.OrDefault(opts.Logger)}
}

// SuggestFloor returns the configured suggest floor.
func (r *Registry) SuggestFloor() float64 {
	return r.floor
}

// FindBestMatch returns the highest-scoring client for query, or nil when no
// client reaches the suggest floor. Ties go to the lowest ID.
func (r *Registry) FindBestMatch(ctx context.Context, query string) (*MatchCandidate, error) {
	if similarity.Normalize(query) == "" {
		return nil, nil
	}

	clients, err := r.store.ListClients(ctx, store.ListOpts{})
	if err != nil {
		return nil, rerrors.NewRegistryError("find_best_match", err)
	}

	var best *MatchCandidate
	for _, c := range clients {
		score := similarity.Score(query, c.Name)
		if best == nil || score > best.Confidence || (score == best.Confidence && c.ID < best.ClientID) {
			best = &MatchCandidate{ClientID: c.ID, ClientName: c.Name, Confidence: score}
		}
	}

	if best == nil || best.Confidence < r.floor {
		r.log.Debug().Str("query", query).Int("clients", len(clients)).Msg("no client above suggest floor")
		return nil, nil
	}
	r.log.Debug().
		Str("query", query).
		Int64("client_id", best.ClientID).
		Float64("confidence", best.Confidence).
		Msg("best client match")
	return best, nil
}

// FindOrCreate returns the client whose normalized name equals name,
// creating it under the trimmed name when none exists. created reports
// whether this call created it. Concurrent calls for the same normalized
// name all return the same client.
func (r *Registry) FindOrCreate(ctx context.Context, name string) (*store.Client, bool, error) {
	name = strings.TrimSpace(name)
	key := similarity.Key(name)
	if key == "" {
		return nil, false, rerrors.NewValidationError("name", "client name must not be empty")
	}

	c, created, err := r.store.InsertOrGetClient(ctx, name, key)
	if err != nil {
		return nil, false, rerrors.NewRegistryError("find_or_create", err)
	}
	if created {
		r.log.Info().Int64("client_id", c.ID).Str("name", c.Name).Msg("client created")
	}
	return c, created, nil
}

// GetExactByNormalizedName returns the client whose normalized name equals
// name, or nil when there is none.
func (r *Registry) GetExactByNormalizedName(ctx context.Context, name string) (*store.Client, error) {
	key := similarity.Key(name)
	if key == "" {
		return nil, nil
	}
	c, err := r.store.GetClientByKey(ctx, key)
	if err != nil {
		return nil, rerrors.NewRegistryError("get_exact", err)
	}
	return c, nil
}

// Get returns a client by ID.
func (r *Registry) Get(ctx context.Context, id int64) (*store.Client, error) {
	c, err := r.store.GetClient(ctx, id)
	if err != nil {
		return nil, rerrors.NewRegistryError("get", err)
	}
	if c == nil {
		return nil, rerrors.NewNotFoundError("client", strconv.FormatInt(id, 10))
	}
	return c, nil
}

// List returns all clients ordered by ID.
func (r *Registry) List(ctx context.Context) ([]*store.Client, error) {
	clients, err := r.store.ListClients(ctx, store.ListOpts{})
	if err != nil {
		return nil, rerrors.NewRegistryError("list", err)
	}
	return clients, nil
}

// ClientDetails holds editable client fields. Nil fields are left unchanged.
type ClientDetails struct {
	Name     *string
	Industry *string
	Address  *string
	Notes    *string
}

// UpdateDetails edits a client in place. Renaming to a name that normalizes
// to another client's name fails with ErrAlreadyExists.
func (r *Registry) UpdateDetails(ctx context.Context, id int64, d ClientDetails) (*store.Client, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if d.Name != nil {
		name := strings.TrimSpace(*d.Name)
		key := similarity.Key(name)
		if key == "" {
			return nil, rerrors.NewValidationError("name", "client name must not be empty")
		}
		c.Name, c.NameKey = name, key
	}
	if d.Industry != nil {
		c.Industry = strings.TrimSpace(*d.Industry)
	}
	if d.Address != nil {
		c.Address = strings.TrimSpace(*d.Address)
	}
	if d.Notes != nil {
		c.Notes = *d.Notes
	}

	if err := r.store.UpdateClient(ctx, c); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, &duplicateNameError{name: c.Name}
		}
		return nil, rerrors.NewRegistryError("update", err)
	}
	return c, nil
}

type duplicateNameError struct{ name string }

func (e *duplicateNameError) Error() string {
	return "another client is already named " + strconv.Quote(e.name)
}

func (e *duplicateNameError) Is(target error) bool {
	return target == rerrors.ErrAlreadyExists
}

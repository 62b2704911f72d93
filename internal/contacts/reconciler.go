// Package contacts merges externally sourced contact people into a client's
// contact list without duplicating or overwriting anyone.
package contacts

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/rs/zerolog"

	rerrors "github.com/hurttlocker/roster/internal/errors"
	"github.com/hurttlocker/roster/internal/logging"
	"github.com/hurttlocker/roster/internal/store"
)

// ExternalContact is a contact person proposed by an outside source such as
// AI extraction. Every field is optional.
type ExternalContact struct {
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Empty reports whether the contact carries nothing to match on.
func (c ExternalContact) Empty() bool {
	return strings.TrimSpace(c.Name) == "" &&
		NormalizePhone(c.Phone) == "" &&
		NormalizeEmail(c.Email) == ""
}

// ContactStore is the storage the reconciler needs.
type ContactStore interface {
	ListContacts(ctx context.Context, clientID int64) ([]*store.Contact, error)
	AddContact(ctx context.Context, c *store.Contact) (int64, error)
	UpdateContact(ctx context.Context, c *store.Contact) error
}

// SyncReport summarizes one Sync call.
type SyncReport struct {
	ClientID int64
	Added    []*store.Contact
	Merged   []*store.Contact // existing contacts that gained fields
	Skipped  int              // incoming entries with nothing to match on
	Matched  int              // incoming entries that matched with nothing new
}

// Reconciler merges external contacts into a client.
type Reconciler struct {
	store ContactStore
	log   *zerolog.Logger

	// locks holds one *sync.Mutex per client id.
	locks sync.Map
}

// New creates a Reconciler. A nil logger uses the default.
func New(s ContactStore, logger *zerolog.Logger) *Reconciler {
	return &Reconciler{store: s, log: logging.OrDefault(logger)}
}

// Sync merges incoming into the contacts of clientID.
//
// An incoming contact matches an existing one on case-insensitive name, on
// phone digits when both have a phone, or on email when both have one. A
// match only fills the existing contact's empty fields. An unmatched
// contact is created, and is primary only if the client had no contacts.
// Incoming entries that match each other collapse into one contact.
//
// Write failures do not stop the sync; they are returned together as a
// *errors.SyncError alongside the report of what did succeed.
//
// Syncs for the same client run one at a time.
func (r *Reconciler) Sync(ctx context.Context, clientID int64, incoming []ExternalContact) (*SyncReport, error) {
	report := &SyncReport{ClientID: clientID}
	if len(incoming) == 0 {
		return report, nil
	}

	mu := r.clientLock(clientID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := r.store.ListContacts(ctx, clientID)
	if err != nil {
		return report, &rerrors.SyncError{ClientID: clientID, Errs: []error{err}}
	}
	hadContacts := len(existing) > 0

	var syncErr *rerrors.SyncError
	fail := func(name string, err error) {
		if syncErr == nil {
			syncErr = &rerrors.SyncError{ClientID: clientID}
		}
		syncErr.Failed = append(syncErr.Failed, name)
		syncErr.Errs = append(syncErr.Errs, err)
		r.log.Warn().Err(err).Int64("client_id", clientID).Str("contact", name).Msg("contact write failed")
	}

	merged := make(map[int64]bool)
	for _, in := range incoming {
		in = clean(in)
		if in.Empty() {
			report.Skipped++
			continue
		}

		if match := findMatch(existing, in); match != nil {
			if !fillEmpty(match, in) {
				report.Matched++
				continue
			}
			if match.ID == 0 {
				// Created earlier in this sync but the write failed; nothing to update.
				continue
			}
			if err := r.store.UpdateContact(ctx, match); err != nil {
				fail(displayName(match), err)
				continue
			}
			if !merged[match.ID] {
				merged[match.ID] = true
				report.Merged = append(report.Merged, match)
			}
			continue
		}

		c := &store.Contact{
			ClientID:  clientID,
			Name:      in.Name,
			Role:      in.Role,
			Phone:     in.Phone,
			Email:     in.Email,
			IsPrimary: !hadContacts && len(report.Added) == 0,
		}
		// Later entries in this batch match against it even if the write fails.
		existing = append(existing, c)
		if err := r.add(ctx, c); err != nil {
			fail(displayName(c), err)
			continue
		}
		report.Added = append(report.Added, c)
	}

	r.log.Debug().
		Int64("client_id", clientID).
		Int("added", len(report.Added)).
		Int("merged", len(report.Merged)).
		Int("skipped", report.Skipped).
		Msg("contacts synced")

	if syncErr != nil {
		return report, syncErr
	}
	return report, nil
}

func (r *Reconciler) clientLock(clientID int64) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(clientID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// add inserts c. If another writer made a primary contact since the list
// was read, c is inserted again as a regular contact.
func (r *Reconciler) add(ctx context.Context, c *store.Contact) error {
	_, err := r.store.AddContact(ctx, c)
	if err == nil || !c.IsPrimary || !store.IsUniqueViolation(err) {
		return err
	}
	r.log.Debug().Int64("client_id", c.ClientID).Str("contact", displayName(c)).
		Msg("client already has a primary contact")
	c.IsPrimary = false
	_, err = r.store.AddContact(ctx, c)
	return err
}

func findMatch(existing []*store.Contact, in ExternalContact) *store.Contact {
	name := foldName(in.Name)
	phone := NormalizePhone(in.Phone)
	email := NormalizeEmail(in.Email)
	for _, c := range existing {
		if name != "" && foldName(c.Name) == name {
			return c
		}
		if phone != "" && NormalizePhone(c.Phone) == phone {
			return c
		}
		if email != "" && NormalizeEmail(c.Email) == email {
			return c
		}
	}
	return nil
}

// fillEmpty copies incoming values into empty fields of c and reports
// whether anything changed. Non-empty fields are never touched.
func fillEmpty(c *store.Contact, in ExternalContact) bool {
	changed := false
	set := func(dst *string, v string) {
		if strings.TrimSpace(*dst) == "" && v != "" {
			*dst = v
			changed = true
		}
	}
	set(&c.Name, in.Name)
	set(&c.Role, in.Role)
	set(&c.Phone, in.Phone)
	set(&c.Email, in.Email)
	return changed
}

// foldName collapses whitespace and lowercases a contact name.
func foldName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func clean(c ExternalContact) ExternalContact {
	return ExternalContact{
		Name:  strings.Join(strings.Fields(c.Name), " "),
		Role:  strings.TrimSpace(c.Role),
		Phone: strings.TrimSpace(c.Phone),
		Email: strings.TrimSpace(c.Email),
	}
}

// NormalizePhone keeps digits and a leading plus sign.
func NormalizePhone(p string) string {
	p = strings.TrimSpace(p)
	var b strings.Builder
	for i, r := range p {
		if unicode.IsDigit(r) || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 1 && strings.HasPrefix(b.String(), "+") {
		return ""
	}
	return b.String()
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

func displayName(c *store.Contact) string {
	switch {
	case c.Name != "":
		return c.Name
	case c.Email != "":
		return c.Email
	default:
		return c.Phone
	}
}

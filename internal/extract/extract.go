// Package extract is the AI extraction adapter: it turns a free-text sales
// note into a proposed client name, contact people, a summary, keywords and
// an optional follow-up schedule.
package extract

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/hurttlocker/roster/internal/contacts"
)

// Extraction is the structured result of analyzing one note. Every field is
// optional; an empty ClientName means the note names no company.
type Extraction struct {
	ClientName string                     `json:"client_name,omitempty"`
	Contacts   []contacts.ExternalContact `json:"contacts,omitempty"`
	Summary    string                     `json:"summary,omitempty"`
	Keywords   []string                   `json:"keywords,omitempty"`
	Schedule   *Schedule                  `json:"schedule,omitempty"`
}

// Schedule is a follow-up appointment mentioned in a note.
type Schedule struct {
	Title    string `json:"title"`
	Date     string `json:"date,omitempty"` // YYYY-MM-DD
	Time     string `json:"time,omitempty"` // HH:MM, 24h
	Location string `json:"location,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Extractor analyzes note text.
type Extractor interface {
	Extract(ctx context.Context, text string) (*Extraction, error)
}

// Normalize trims every field, drops contacts with nothing to match on,
// drops blank or repeated keywords, and drops a schedule without a title.
func (e *Extraction) Normalize() {
	e.ClientName = strings.Join(strings.Fields(e.ClientName), " ")
	e.Summary = strings.TrimSpace(e.Summary)

	kept := e.Contacts[:0]
	for _, c := range e.Contacts {
		c.Name = strings.TrimSpace(c.Name)
		c.Role = strings.TrimSpace(c.Role)
		c.Phone = strings.TrimSpace(c.Phone)
		c.Email = strings.TrimSpace(c.Email)
		if !c.Empty() {
			kept = append(kept, c)
		}
	}
	e.Contacts = kept

	seen := make(map[string]bool, len(e.Keywords))
	keywords := e.Keywords[:0]
	for _, k := range e.Keywords {
		k = strings.TrimSpace(k)
		lk := strings.ToLower(k)
		if k == "" || seen[lk] {
			continue
		}
		seen[lk] = true
		keywords = append(keywords, k)
	}
	e.Keywords = keywords

	if e.Schedule != nil {
		e.Schedule.Title = strings.TrimSpace(e.Schedule.Title)
		e.Schedule.Date = strings.TrimSpace(e.Schedule.Date)
		e.Schedule.Time = strings.TrimSpace(e.Schedule.Time)
		if e.Schedule.Title == "" {
			e.Schedule = nil
		}
	}
}

// Marshal encodes the extraction for storage on a record.
func (e *Extraction) Marshal() (json.RawMessage, error) {
	return json.Marshal(e)
}

// Unmarshal decodes an extraction stored on a record.
func Unmarshal(raw json.RawMessage) (*Extraction, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var e Extraction
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

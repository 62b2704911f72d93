// Package workflow drives the two-step confirmation protocol that attaches
// sales records to clients without silently creating duplicates.
//
// The state machine is a closed set of State values moved by pure
// functions (PlanPreSave, PlanPostAnalysis, Decide). Engine executes the
// resulting actions against the registry, the record store and the contact
// reconciler, and parks Awaiting states until a decision arrives.
package workflow

import (
	"fmt"
	"strings"

	"github.com/hurttlocker/roster/internal/contacts"
	"github.com/hurttlocker/roster/internal/registry"
)

// Phase identifies which confirmation a state belongs to.
type Phase string

const (
	PhasePreSave      Phase = "presave"
	PhasePostAnalysis Phase = "postanalysis"
)

// State is one of Idle, AwaitingPreSaveConfirm, AwaitingPostAnalysisConfirm
// or Resolved.
type State interface {
	// Name is a stable identifier for rendering and logs.
	Name() string
	isState()
}

// Idle is the state before any lookup has run.
type Idle struct{}

// AwaitingPreSaveConfirm asks whether the typed name meant an existing
// client. Nothing has been saved yet.
type AwaitingPreSaveConfirm struct {
	TypedName string                  `json:"typed_name"`
	Candidate registry.MatchCandidate `json:"candidate"`
}

// AwaitingPostAnalysisConfirm asks, for a saved record, whether the
// AI-proposed client name is Candidate, or with no Candidate, whether it
// should be registered as a new client.
type AwaitingPostAnalysisConfirm struct {
	RecordID  int64                      `json:"record_id"`
	AIName    string                     `json:"ai_name"`
	Candidate *registry.MatchCandidate   `json:"candidate,omitempty"`
	Contacts  []contacts.ExternalContact `json:"contacts,omitempty"`
}

// Resolved is terminal. ClientID is nil when the record stays unattached.
type Resolved struct {
	ClientID *int64 `json:"client_id"`
	Created  bool   `json:"created"` // the client was created by this resolution
	RecordID int64  `json:"record_id,omitempty"`
}

func (Idle) Name() string                        { return "idle" }
func (AwaitingPreSaveConfirm) Name() string      { return "awaiting_presave_confirm" }
func (AwaitingPostAnalysisConfirm) Name() string { return "awaiting_postanalysis_confirm" }
func (Resolved) Name() string                    { return "resolved" }

func (Idle) isState()                        {}
func (AwaitingPreSaveConfirm) isState()      {}
func (AwaitingPostAnalysisConfirm) isState() {}
func (Resolved) isState()                    {}

// IsAwaiting reports whether s needs a decision.
func IsAwaiting(s State) bool {
	switch s.(type) {
	case AwaitingPreSaveConfirm, AwaitingPostAnalysisConfirm:
		return true
	}
	return false
}

// Prompt renders the question an Awaiting state asks.
func Prompt(s State) string {
	switch st := s.(type) {
	case AwaitingPreSaveConfirm:
		return fmt.Sprintf("Did you mean %q (%.0f%% match) for %q?",
			st.Candidate.ClientName, st.Candidate.Confidence*100, st.TypedName)
	case AwaitingPostAnalysisConfirm:
		if st.Candidate == nil {
			return fmt.Sprintf("Register %q as a new client?", st.AIName)
		}
		return fmt.Sprintf("Is %q the client %q (%.0f%% match)?",
			st.AIName, st.Candidate.ClientName, st.Candidate.Confidence*100)
	}
	return ""
}

// Decision is the caller's answer to an Awaiting state.
type Decision int

const (
	Reject Decision = iota
	Accept
)

func (d Decision) String() string {
	if d == Accept {
		return "accept"
	}
	return "reject"
}

// ParseDecision accepts accept/reject and the usual yes/no spellings.
func ParseDecision(s string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accept", "yes", "y", "true", "1":
		return Accept, nil
	case "reject", "no", "n", "false", "0":
		return Reject, nil
	}
	return Reject, fmt.Errorf("invalid decision %q: expected accept or reject", s)
}

package workflow

import (
	"fmt"

	"github.com/hurttlocker/roster/internal/contacts"
	rerrors "github.com/hurttlocker/roster/internal/errors"
	"github.com/hurttlocker/roster/internal/registry"
	"github.com/hurttlocker/roster/internal/similarity"
)

// PlanPreSave decides the pre-save state for a typed client name given the
// registry's best match (nil when nothing reached the suggest floor).
// An exact normalized match resolves without asking.
func PlanPreSave(typed string, best *registry.MatchCandidate) State {
	if similarity.Normalize(typed) == "" || best == nil {
		return Resolved{}
	}
	if similarity.Equal(best.ClientName, typed) {
		id := best.ClientID
		return Resolved{ClientID: &id}
	}
	return AwaitingPreSaveConfirm{TypedName: typed, Candidate: *best}
}

// PlanPostAnalysis decides the post-analysis state for a record whose
// extraction proposed aiName. An empty aiName skips the phase.
func PlanPostAnalysis(recordID int64, aiName string, best *registry.MatchCandidate, extracted []contacts.ExternalContact) State {
	if similarity.Normalize(aiName) == "" {
		return Resolved{RecordID: recordID}
	}
	var candidate *registry.MatchCandidate
	if best != nil {
		c := *best
		candidate = &c
	}
	return AwaitingPostAnalysisConfirm{
		RecordID:  recordID,
		AIName:    aiName,
		Candidate: candidate,
		Contacts:  extracted,
	}
}

// ActionKind is what the engine must do to leave an Awaiting state.
type ActionKind int

const (
	// AttachExisting attaches Action.ClientID.
	AttachExisting ActionKind = iota + 1
	// CreateAndAttach find-or-creates a client named Action.Name and attaches it.
	CreateAndAttach
	// LeaveUnattached leaves the record with no client.
	LeaveUnattached
)

func (k ActionKind) String() string {
	switch k {
	case AttachExisting:
		return "attach_existing"
	case CreateAndAttach:
		return "create_and_attach"
	case LeaveUnattached:
		return "leave_unattached"
	}
	return "unknown"
}

// Action is the side effect a decision requires.
type Action struct {
	Kind         ActionKind
	Phase        Phase
	ClientID     int64  // for AttachExisting
	Name         string // for CreateAndAttach
	SyncContacts bool
}

// Decide maps an Awaiting state and a decision to the action that resolves it.
func Decide(s State, d Decision) (Action, error) {
	switch st := s.(type) {
	case AwaitingPreSaveConfirm:
		if d == Accept {
			return Action{Kind: AttachExisting, Phase: PhasePreSave, ClientID: st.Candidate.ClientID}, nil
		}
		return Action{Kind: CreateAndAttach, Phase: PhasePreSave, Name: st.TypedName}, nil

	case AwaitingPostAnalysisConfirm:
		switch {
		case st.Candidate != nil && d == Accept:
			return Action{Kind: AttachExisting, Phase: PhasePostAnalysis, ClientID: st.Candidate.ClientID, SyncContacts: true}, nil
		case st.Candidate != nil:
			return Action{Kind: CreateAndAttach, Phase: PhasePostAnalysis, Name: st.AIName, SyncContacts: true}, nil
		case d == Accept:
			return Action{Kind: CreateAndAttach, Phase: PhasePostAnalysis, Name: st.AIName, SyncContacts: true}, nil
		default:
			return Action{Kind: LeaveUnattached, Phase: PhasePostAnalysis}, nil
		}
	}
	return Action{}, fmt.Errorf("state %s takes no decision: %w", s.Name(), rerrors.ErrNoPendingConfirmation)
}

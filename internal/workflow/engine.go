package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hurttlocker/roster/internal/contacts"
	rerrors "github.com/hurttlocker/roster/internal/errors"
	"github.com/hurttlocker/roster/internal/extract"
	"github.com/hurttlocker/roster/internal/logging"
	"github.com/hurttlocker/roster/internal/metrics"
	"github.com/hurttlocker/roster/internal/registry"
	"github.com/hurttlocker/roster/internal/similarity"
	"github.com/hurttlocker/roster/internal/store"
)

const (
	defaultConcurrency  = 4
	defaultPendingBatch = 100
)

// Registry is the part of the client registry the engine needs.
type Registry interface {
	FindBestMatch(ctx context.Context, query string) (*registry.MatchCandidate, error)
	FindOrCreate(ctx context.Context, name string) (*store.Client, bool, error)
	Get(ctx context.Context, id int64) (*store.Client, error)
}

// ContactSyncer merges extracted contacts into a client.
type ContactSyncer interface {
	Sync(ctx context.Context, clientID int64, incoming []contacts.ExternalContact) (*contacts.SyncReport, error)
}

// RecordStore persists records, their extraction side products and the
// resolution log.
type RecordStore interface {
	AddRecord(ctx context.Context, r *store.Record) (int64, error)
	GetRecord(ctx context.Context, id int64) (*store.Record, error)
	ListRecords(ctx context.Context, f store.RecordFilter) ([]*store.Record, error)
	AttachClient(ctx context.Context, recordID, clientID int64) error
	SetExtraction(ctx context.Context, recordID int64, extraction json.RawMessage) error
	UpsertSchedule(ctx context.Context, sc *store.Schedule) error
	AttachScheduleClient(ctx context.Context, recordID, clientID int64) error
	LogEvent(ctx context.Context, e *store.Event) error
}

// Deps are the collaborators an Engine drives. Extractor may be nil when
// no AI provider is configured; Analyze then fails with ErrExtractionFailed.
type Deps struct {
	Registry  Registry
	Contacts  ContactSyncer
	Records   RecordStore
	Extractor extract.Extractor
	Metrics   *metrics.Metrics
	Logger    *zerolog.Logger
}

// Options tune an Engine.
type Options struct {
	// PendingTTL expires parked confirmations. Zero keeps them until answered
	// or cancelled.
	PendingTTL time.Duration
	// Concurrency bounds AnalyzePending. Zero means 4.
	Concurrency int
}

// Draft is a record the user is about to save.
type Draft struct {
	// Key identifies the pending confirmation, if one is needed. Empty
	// means a fresh key is generated.
	Key            string
	ClientNameText string
	Body           string
	// ClientID attaches the record directly, skipping the lookup.
	ClientID *int64
}

// Outcome reports where a workflow step left things.
type Outcome struct {
	Key        string               `json:"key,omitempty"` // set while State is awaiting
	State      State                `json:"detail"`
	StateName  string               `json:"state"`
	Prompt     string               `json:"prompt,omitempty"`
	Record     *store.Record        `json:"record,omitempty"`
	Extraction *extract.Extraction  `json:"extraction,omitempty"`
	Sync       *contacts.SyncReport `json:"sync,omitempty"`
	// Err is set only on outcomes returned by AnalyzePending.
	Err error `json:"-"`
}

// session is a parked Awaiting state. Fields are guarded by Engine.mu.
type session struct {
	state    State
	draft    *Draft // pre-save only
	inFlight bool
}

// Engine runs the two confirmation phases.
//
// Awaiting states are parked under a key until Confirm or Cancel. A key
// accepts one decision at a time; no lock is held while the registry, store
// or extractor is called.
type Engine struct {
	deps Deps
	opts Options
	log  *zerolog.Logger

	mu      sync.Mutex
	pending *cache.Cache
}

// NewEngine creates an Engine.
func NewEngine(deps Deps, opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	ttl := opts.PendingTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &Engine{
		deps: deps,
		opts: opts,
		log:  logging.OrDefault(deps.Logger),
		// No janitor goroutine; expired entries are purged on reserve.
		pending: cache.New(ttl, 0),
	}
}

const postAnalysisPrefix = "record:"

// PostAnalysisKey is the pending key of a record's post-analysis confirmation.
func PostAnalysisKey(recordID int64) string {
	return postAnalysisPrefix + strconv.FormatInt(recordID, 10)
}

// Submit runs the pre-save phase for d. When the typed name closely
// matches an existing client the draft is parked and the returned outcome
// is AwaitingPreSaveConfirm; otherwise the record is saved and the outcome
// is Resolved.
func (e *Engine) Submit(ctx context.Context, d Draft) (*Outcome, error) {
	ctx = logging.WithLogger(ctx, e.log)
	d.ClientNameText = strings.TrimSpace(d.ClientNameText)
	if strings.TrimSpace(d.Body) == "" {
		return nil, rerrors.NewValidationError("body", "record body must not be empty")
	}

	if d.ClientID != nil {
		if _, err := e.deps.Registry.Get(ctx, *d.ClientID); err != nil {
			return nil, err
		}
		return e.saveDraft(ctx, &d, Resolved{ClientID: d.ClientID})
	}

	key := d.Key
	if key == "" {
		key = uuid.New().String()
	} else if strings.HasPrefix(key, postAnalysisPrefix) {
		return nil, rerrors.NewValidationError("key", "keys starting with "+postAnalysisPrefix+" are reserved")
	}
	d.Key = key
	if err := e.reserve(key); err != nil {
		return nil, err
	}

	var best *registry.MatchCandidate
	if d.ClientNameText != "" {
		var err error
		best, err = e.deps.Registry.FindBestMatch(ctx, d.ClientNameText)
		if err != nil {
			e.release(key)
			e.deps.Metrics.RecordLookup(metrics.PhasePreSave, "error")
			return nil, err
		}
	}

	next := PlanPreSave(d.ClientNameText, best)
	e.deps.Metrics.RecordLookup(metrics.PhasePreSave, lookupOutcome(next, best))

	res, ok := next.(Resolved)
	if !ok {
		e.park(key, &session{state: next, draft: &d})
		logging.Ctx(ctx).Debug().Str("key", key).Str("typed", d.ClientNameText).
			Str("candidate", best.ClientName).Msg("pre-save confirmation pending")
		return e.awaiting(key, next), nil
	}

	e.release(key)
	return e.saveDraft(ctx, &d, res)
}

// Analyze runs AI extraction on a saved record, stores the result, and,
// for an unattached record, starts the post-analysis phase. A failed
// extraction leaves the record untouched.
func (e *Engine) Analyze(ctx context.Context, recordID int64) (*Outcome, error) {
	ctx = logging.WithRecord(logging.WithLogger(ctx, e.log), recordID)
	if _, ok := e.Pending(PostAnalysisKey(recordID)); ok {
		return nil, fmt.Errorf("record %d: %w", recordID, rerrors.ErrConfirmationPending)
	}
	rec, err := e.getRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if e.deps.Extractor == nil {
		return nil, rerrors.NewExtractionError("none", errors.New("no AI provider configured"))
	}

	start := time.Now()
	ext, err := e.deps.Extractor.Extract(ctx, rec.Body)
	e.deps.Metrics.RecordExtraction(time.Since(start), err)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("extraction failed")
		if !errors.Is(err, rerrors.ErrExtractionFailed) {
			err = rerrors.NewExtractionError("unknown", err)
		}
		return nil, err
	}
	if ext == nil {
		ext = &extract.Extraction{}
	}

	raw, err := ext.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encoding extraction: %w", err)
	}
	if err := e.deps.Records.SetExtraction(ctx, recordID, raw); err != nil {
		return nil, fmt.Errorf("saving extraction: %w", err)
	}
	if ext.Schedule != nil {
		e.saveSchedule(ctx, rec, ext.Schedule)
	}

	return e.BeginPostAnalysis(ctx, recordID, ext)
}

// BeginPostAnalysis starts the post-analysis phase for a record given its
// extraction. A record that already has a client gets the extracted
// contacts synced into that client and resolves immediately, as does an
// extraction that names no client.
func (e *Engine) BeginPostAnalysis(ctx context.Context, recordID int64, ext *extract.Extraction) (*Outcome, error) {
	ctx = logging.WithRecord(logging.WithLogger(ctx, e.log), recordID)
	rec, err := e.getRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if ext == nil {
		ext = &extract.Extraction{}
	}

	if rec.ClientID != nil {
		out := e.resolved(Resolved{ClientID: rec.ClientID, RecordID: recordID})
		out.Record = rec
		out.Extraction = ext
		out.Sync = e.syncContacts(ctx, *rec.ClientID, ext.Contacts)
		return out, nil
	}

	if similarity.Normalize(ext.ClientName) == "" {
		out := e.resolved(Resolved{RecordID: recordID})
		out.Record = rec
		out.Extraction = ext
		return out, nil
	}

	key := PostAnalysisKey(recordID)
	if err := e.reserve(key); err != nil {
		return nil, err
	}
	best, err := e.deps.Registry.FindBestMatch(ctx, ext.ClientName)
	if err != nil {
		e.release(key)
		e.deps.Metrics.RecordLookup(metrics.PhasePostAnalysis, "error")
		return nil, err
	}

	next := PlanPostAnalysis(recordID, ext.ClientName, best, ext.Contacts)
	e.deps.Metrics.RecordLookup(metrics.PhasePostAnalysis, lookupOutcome(next, best))
	e.park(key, &session{state: next})
	logging.Ctx(ctx).Debug().Str("key", key).Str("ai_name", ext.ClientName).
		Bool("has_candidate", best != nil).Msg("post-analysis confirmation pending")

	out := e.awaiting(key, next)
	out.Record = rec
	out.Extraction = ext
	return out, nil
}

// Confirm applies a decision to the confirmation parked under key.
//
// On a registry or storage failure the parked state is restored so the
// same decision can be retried. A failed contact sync does not fail the
// confirmation; it is logged and reported in the outcome.
func (e *Engine) Confirm(ctx context.Context, key string, d Decision) (*Outcome, error) {
	ctx = logging.WithLogger(ctx, e.log)
	sess, err := e.claim(key)
	if err != nil {
		return nil, err
	}

	action, err := Decide(sess.state, d)
	if err != nil {
		e.unclaim(key, sess)
		return nil, err
	}

	out, err := e.apply(ctx, sess, action)
	if err != nil {
		e.unclaim(key, sess)
		return nil, err
	}

	e.release(key)
	e.deps.Metrics.RecordConfirmation(string(action.Phase), d == Accept)
	return out, nil
}

// AnalyzePending analyzes up to limit records that have no extraction yet,
// with bounded concurrency. Per-record failures are reported on each
// Outcome's Err; the returned error is only set when ctx ends first.
func (e *Engine) AnalyzePending(ctx context.Context, limit int) ([]*Outcome, error) {
	if limit <= 0 {
		limit = defaultPendingBatch
	}
	recs, err := e.deps.Records.ListRecords(ctx, store.RecordFilter{Unanalyzed: true, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("listing unanalyzed records: %w", err)
	}

	outcomes := make([]*Outcome, len(recs))
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, rec := range recs {
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i] = &Outcome{Record: rec, Err: ctx.Err()}
				return nil
			}
			out, err := e.Analyze(ctx, rec.ID)
			if err != nil {
				out = &Outcome{Record: rec, Err: err}
			}
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	return outcomes, ctx.Err()
}

// Pending returns the Awaiting state parked under key.
func (e *Engine) Pending(key string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.pending.Get(key)
	if !ok || !IsAwaiting(v.(*session).state) {
		return nil, false
	}
	return v.(*session).state, true
}

// ListPending returns every parked Awaiting state by key.
func (e *Engine) ListPending() map[string]State {
	e.mu.Lock()
	defer e.mu.Unlock()
	items := e.pending.Items()
	out := make(map[string]State, len(items))
	for k, item := range items {
		if st := item.Object.(*session).state; IsAwaiting(st) {
			out[k] = st
		}
	}
	return out
}

// Cancel drops the confirmation parked under key. A cancelled pre-save
// draft is discarded unsaved; a cancelled post-analysis leaves its record
// unattached. It returns false if nothing was parked or a decision is
// being applied.
func (e *Engine) Cancel(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.pending.Get(key)
	if !ok || v.(*session).inFlight {
		return false
	}
	e.pending.Delete(key)
	e.deps.Metrics.SetPending(e.pending.ItemCount())
	return true
}

func (e *Engine) apply(ctx context.Context, sess *session, a Action) (*Outcome, error) {
	switch a.Phase {
	case PhasePreSave:
		res := Resolved{}
		switch a.Kind {
		case AttachExisting:
			id := a.ClientID
			res.ClientID = &id
		case CreateAndAttach:
			c, created, err := e.deps.Registry.FindOrCreate(ctx, a.Name)
			if err != nil {
				return nil, err
			}
			res.ClientID = &c.ID
			res.Created = created
		}
		return e.saveDraft(ctx, sess.draft, res)

	case PhasePostAnalysis:
		st := sess.state.(AwaitingPostAnalysisConfirm)
		ctx = logging.WithRecord(ctx, st.RecordID)
		res := Resolved{RecordID: st.RecordID}

		if a.Kind == LeaveUnattached {
			e.logEvent(ctx, store.EventAttachDeclined, &st.RecordID, nil, PhasePostAnalysis, st.AIName)
			return e.resolved(res), nil
		}

		clientID := a.ClientID
		if a.Kind == CreateAndAttach {
			c, created, err := e.deps.Registry.FindOrCreate(ctx, a.Name)
			if err != nil {
				return nil, err
			}
			clientID = c.ID
			res.Created = created
			if created {
				e.deps.Metrics.RecordClientCreated(metrics.PhasePostAnalysis)
				e.logEvent(ctx, store.EventClientCreated, &st.RecordID, &clientID, PhasePostAnalysis, c.Name)
			}
		}
		if err := e.deps.Records.AttachClient(ctx, st.RecordID, clientID); err != nil {
			return nil, fmt.Errorf("attaching record %d: %w", st.RecordID, err)
		}
		res.ClientID = &clientID
		e.logEvent(ctx, store.EventClientAttached, &st.RecordID, &clientID, PhasePostAnalysis, a.Kind.String())
		if err := e.deps.Records.AttachScheduleClient(ctx, st.RecordID, clientID); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("attaching schedule failed")
		}

		out := e.resolved(res)
		if a.SyncContacts {
			out.Sync = e.syncContacts(ctx, clientID, st.Contacts)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown phase %q", a.Phase)
}

// saveDraft persists a pre-save draft under the resolved client.
func (e *Engine) saveDraft(ctx context.Context, d *Draft, res Resolved) (*Outcome, error) {
	rec := &store.Record{
		ClientID:       res.ClientID,
		ClientNameText: d.ClientNameText,
		Body:           d.Body,
	}
	if _, err := e.deps.Records.AddRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("saving record: %w", err)
	}
	res.RecordID = rec.ID
	ctx = logging.WithRecord(ctx, rec.ID)

	if res.Created {
		e.deps.Metrics.RecordClientCreated(metrics.PhasePreSave)
		e.logEvent(ctx, store.EventClientCreated, &rec.ID, res.ClientID, PhasePreSave, d.ClientNameText)
	}
	if res.ClientID != nil {
		e.logEvent(ctx, store.EventClientAttached, &rec.ID, res.ClientID, PhasePreSave, d.ClientNameText)
	}
	logging.Ctx(ctx).Debug().Bool("attached", res.ClientID != nil).Msg("record saved")

	out := e.resolved(res)
	out.Record = rec
	return out, nil
}

func (e *Engine) syncContacts(ctx context.Context, clientID int64, incoming []contacts.ExternalContact) *contacts.SyncReport {
	if len(incoming) == 0 || e.deps.Contacts == nil {
		return nil
	}
	ctx = logging.WithClient(ctx, clientID)
	report, err := e.deps.Contacts.Sync(ctx, clientID, incoming)
	e.deps.Metrics.RecordContactSync(err)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("contact sync incomplete")
	}
	if report != nil {
		for _, c := range report.Added {
			e.logEvent(ctx, store.EventContactAdded, nil, &clientID, "sync", c.Name)
		}
		for _, c := range report.Merged {
			e.logEvent(ctx, store.EventContactMerged, nil, &clientID, "sync", c.Name)
		}
	}
	return report
}

func (e *Engine) saveSchedule(ctx context.Context, rec *store.Record, s *extract.Schedule) {
	err := e.deps.Records.UpsertSchedule(ctx, &store.Schedule{
		RecordID: rec.ID,
		ClientID: rec.ClientID,
		Title:    s.Title,
		Date:     s.Date,
		Time:     s.Time,
		Location: s.Location,
		Notes:    s.Notes,
	})
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("saving schedule failed")
	}
}

func (e *Engine) getRecord(ctx context.Context, id int64) (*store.Record, error) {
	rec, err := e.deps.Records.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, rerrors.NewNotFoundError("record", strconv.FormatInt(id, 10))
	}
	return rec, nil
}

// logEvent appends to the resolution log. Failures are logged only.
func (e *Engine) logEvent(ctx context.Context, t store.EventType, recordID, clientID *int64, phase Phase, detail string) {
	err := e.deps.Records.LogEvent(ctx, &store.Event{
		EventType: t,
		RecordID:  recordID,
		ClientID:  clientID,
		Phase:     string(phase),
		Detail:    detail,
	})
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event", string(t)).Msg("logging resolution event failed")
	}
}

// reserve claims key for a lookup about to run. Fails if anything is
// already parked under it.
func (e *Engine) reserve(key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending.DeleteExpired()
	if err := e.pending.Add(key, &session{state: Idle{}, inFlight: true}, cache.DefaultExpiration); err != nil {
		return fmt.Errorf("%s: %w", key, rerrors.ErrConfirmationPending)
	}
	return nil
}

func (e *Engine) park(key string, s *session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending.Set(key, s, cache.DefaultExpiration)
	e.deps.Metrics.SetPending(e.pending.ItemCount())
}

func (e *Engine) release(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending.Delete(key)
	e.deps.Metrics.SetPending(e.pending.ItemCount())
}

// claim marks the session under key as having a decision in flight.
func (e *Engine) claim(key string) (*session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.pending.Get(key)
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, rerrors.ErrNoPendingConfirmation)
	}
	sess := v.(*session)
	if !IsAwaiting(sess.state) {
		return nil, fmt.Errorf("%s: %w", key, rerrors.ErrConfirmationInFlight)
	}
	if sess.inFlight {
		return nil, fmt.Errorf("%s: %w", key, rerrors.ErrConfirmationInFlight)
	}
	sess.inFlight = true
	return sess, nil
}

// unclaim returns a claimed session to its parked state.
func (e *Engine) unclaim(key string, sess *session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess.inFlight = false
	e.pending.Set(key, sess, cache.DefaultExpiration)
}

func (e *Engine) awaiting(key string, s State) *Outcome {
	return &Outcome{Key: key, State: s, StateName: s.Name(), Prompt: Prompt(s)}
}

func (e *Engine) resolved(r Resolved) *Outcome {
	return &Outcome{State: r, StateName: r.Name()}
}

func lookupOutcome(next State, best *registry.MatchCandidate) string {
	switch {
	case best == nil:
		return "none"
	case IsAwaiting(next):
		return "suggested"
	default:
		return "exact"
	}
}

// Package state implements the Frame/Script State component (C4): the
// per-frame record of identity, URL, scripts, network sessions, and
// in-flight navigation, plus the causal call-graph extraction that walks
// scriptParsed stack traces.
package state

import (
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxLiveTime is how long a NetworkSession entry survives before it is
// lazily purged on the next requestWillBeSent (spec §3).
const MaxLiveTime = 5 * time.Second

// ScriptRecord is keyed by (frameId, scriptId) within a frame.
type ScriptRecord struct {
	ScriptID string
	FrameID  string
	Domain   string
	URL      *url.URL
	// ContentHash is opaque; CDP's Debugger.scriptParsed "hash" field.
	ContentHash string

	ContactedDomains map[string]struct{}
	HTTPGetURLs      map[string]struct{}

	// CallScriptHistory / SpawnScriptHistory record callee/child content
	// hashes already causally attributed to this script, to suppress
	// duplicate [Script Call Script] / [Script Spawn Script] edges.
	CallScriptHistory  map[string]struct{}
	SpawnScriptHistory map[string]struct{}
}

func newScriptRecord(frameID, scriptID, domain, contentHash string, u *url.URL) *ScriptRecord {
	return &ScriptRecord{
		ScriptID:           scriptID,
		FrameID:            frameID,
		Domain:             domain,
		URL:                u,
		ContentHash:        contentHash,
		ContactedDomains:   make(map[string]struct{}),
		HTTPGetURLs:        make(map[string]struct{}),
		CallScriptHistory:  make(map[string]struct{}),
		SpawnScriptHistory: make(map[string]struct{}),
	}
}

// Snapshot returns a shallow copy safe to hand to an audit event: sets are
// copied so later mutation of the live record is never observed downstream.
func (s *ScriptRecord) Snapshot() *ScriptRecord {
	if s == nil {
		return nil
	}
	cp := *s
	cp.ContactedDomains = copySet(s.ContactedDomains)
	cp.HTTPGetURLs = copySet(s.HTTPGetURLs)
	cp.CallScriptHistory = copySet(s.CallScriptHistory)
	cp.SpawnScriptHistory = copySet(s.SpawnScriptHistory)
	return &cp
}

// RequestInfo is one leg (request or redirect hop) of a NetworkSession.
type RequestInfo struct {
	Method       string
	URL          string
	InitiatorType string
	WallTime     time.Time
}

// ResponseInfo is the response leg, if one has arrived yet.
type ResponseInfo struct {
	Status   int
	MimeType string
}

// NetworkEntry is one {request, response?} pair in a NetworkSession's
// sequence; a redirect chain is successive entries for the same requestId.
type NetworkEntry struct {
	Request  RequestInfo
	Response *ResponseInfo
}

// NetworkSession tracks one requestId's lifetime.
type NetworkSession struct {
	RequestID string
	BornTime  time.Time
	Sequence  []NetworkEntry
}

// NavigationTicket is the single in-flight-navigation slot per frame.
type NavigationTicket struct {
	OnScheduling    bool
	Reason          string
	DestinationURL  string
	Script          *ScriptRecord
	NetworkSession  *NetworkSession
}

// FrameRecord is keyed by CDP frameId.
type FrameRecord struct {
	FrameID        string
	LoaderID       string
	OpenerFrameUID string
	Title          string
	URL            *url.URL
	IsMainFrame    bool
	UID            string
	ContactedDomains map[string]struct{}
	Scripts          map[string]*ScriptRecord       // scriptId -> record
	NetworkSessions  map[string]*NetworkSession     // requestId -> session
	Navigation       NavigationTicket
	Urgent           bool
}

// Snapshot returns a shallow, independently-owned copy of the frame record
// safe to embed in an audit event payload.
func (f *FrameRecord) Snapshot() *FrameRecord {
	if f == nil {
		return nil
	}
	cp := *f
	cp.ContactedDomains = copySet(f.ContactedDomains)
	cp.Scripts = make(map[string]*ScriptRecord, len(f.Scripts))
	for id, s := range f.Scripts {
		cp.Scripts[id] = s.Snapshot()
	}
	cp.NetworkSessions = make(map[string]*NetworkSession, len(f.NetworkSessions))
	for id, n := range f.NetworkSessions {
		ncp := *n
		ncp.Sequence = append([]NetworkEntry(nil), n.Sequence...)
		cp.NetworkSessions[id] = &ncp
	}
	cp.Navigation.Script = f.Navigation.Script.Snapshot()
	return &cp
}

func copySet(m map[string]struct{}) map[string]struct{} {
	cp := make(map[string]struct{}, len(m))
	for k := range m {
		cp[k] = struct{}{}
	}
	return cp
}

// Store owns every FrameRecord. All mutation is serialized by mu — "the
// frame-state lock" of spec §5 — and is the single logical writer for
// frame, script, and network session state.
type Store struct {
	mu     sync.Mutex
	frames map[string]*FrameRecord
}

// NewStore creates an empty frame/script state store.
func NewStore() *Store {
	return &Store{frames: make(map[string]*FrameRecord)}
}

func newFrameRecord(frameID string, urgent bool) *FrameRecord {
	return &FrameRecord{
		FrameID:          frameID,
		UID:              uuid.NewString(),
		ContactedDomains: make(map[string]struct{}),
		Scripts:          make(map[string]*ScriptRecord),
		NetworkSessions:  make(map[string]*NetworkSession),
		Urgent:           urgent,
	}
}

// GetOrCreate returns the record for frameID, creating a normal (non-urgent)
// record with a fresh UID if none exists yet. Returns whether it was created.
func (s *Store) GetOrCreate(frameID string) (*FrameRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.frames[frameID]; ok {
		return f, false
	}
	f := newFrameRecord(frameID, false)
	s.frames[frameID] = f
	return f, true
}

// GetOrCreateUrgent returns the record for frameID, creating an urgent
// placeholder (ForwardReference, spec §7) if none exists yet.
func (s *Store) GetOrCreateUrgent(frameID string) (*FrameRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.frames[frameID]; ok {
		return f, false
	}
	f := newFrameRecord(frameID, true)
	s.frames[frameID] = f
	return f, true
}

// Get returns the record for frameID without creating one.
func (s *Store) Get(frameID string) (*FrameRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.frames[frameID]
	return f, ok
}

// Reconcile fills in a previously-urgent (or brand new) frame's real
// announcement. UID is preserved unless openerFrameUID is newly known on
// this call — invariant 3(a): UID rotates on "first real announcement of an
// urgent frame with an opener". Returns whether the opener just became
// known (the caller uses this to decide whether to emit
// [Main Frame Created]/[Sub-Frame Created]).
func (s *Store) Reconcile(frameID, title string, u *url.URL, isMainFrame bool, openerFrameUID, loaderID string) (openerNewlyKnown bool, rec *FrameRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.frames[frameID]
	if !ok {
		f = newFrameRecord(frameID, false)
		s.frames[frameID] = f
	}

	openerNewlyKnown = f.OpenerFrameUID == "" && openerFrameUID != ""
	f.Urgent = false
	f.Title = title
	f.URL = u
	f.IsMainFrame = isMainFrame
	if openerFrameUID != "" {
		f.OpenerFrameUID = openerFrameUID
	}
	if loaderID != "" {
		f.LoaderID = loaderID
	}
	if openerNewlyKnown {
		f.UID = uuid.NewString()
	}
	return openerNewlyKnown, f
}

// UpdateTitleIfFirst sets the frame's title and, per the resolved Open
// Question in SPEC_FULL.md §9, rotates the UID and reports "fired=true"
// only the first time the title transitions from empty to non-empty
// (invariant 3c). Subsequent title changes update silently.
func (s *Store) UpdateTitleIfFirst(frameID, title string) (fired bool, rec *FrameRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.frames[frameID]
	if !ok {
		return false, nil
	}
	first := f.Title == "" && title != ""
	f.Title = title
	if first {
		f.UID = uuid.NewString()
	}
	return first, f
}

// Navigate resets a frame's per-document state on frameNavigated: scripts,
// contactedDomains, networkSessions, and the NavigationTicket are all
// cleared, a fresh UID is minted, and loaderId/url are taken from the
// announced frame. Returns the UID that was active immediately before this
// call (used to pop the matching ScheduledNavigations entry).
func (s *Store) Navigate(frameID, loaderID string, u *url.URL) (preNavUID string, rec *FrameRecord, wasUnknown bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.frames[frameID]
	if !ok {
		f = newFrameRecord(frameID, true)
		s.frames[frameID] = f
		wasUnknown = true
	}

	preNavUID = f.UID
	f.LoaderID = loaderID
	f.URL = u
	f.UID = uuid.NewString()
	f.ContactedDomains = make(map[string]struct{})
	f.Scripts = make(map[string]*ScriptRecord)
	f.NetworkSessions = make(map[string]*NetworkSession)
	f.Navigation = NavigationTicket{}
	return preNavUID, f, wasUnknown
}

// Destroy removes a frame's record, returning its last known UID (the
// caller uses this to purge any ScheduledNavigations keyed by that UID).
func (s *Store) Destroy(frameID string) (uid string, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.frames[frameID]
	if !ok {
		return "", false
	}
	delete(s.frames, frameID)
	return f.UID, true
}

// SetScheduling sets the NavigationTicket into the "scheduled, not yet
// navigated" state for frameID (creating the frame urgently if unknown).
func (s *Store) SetScheduling(frameID, reason, destinationURL string) (rec *FrameRecord, wasUnknown bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.frames[frameID]
	if !ok {
		f = newFrameRecord(frameID, true)
		s.frames[frameID] = f
		wasUnknown = true
	}
	f.Navigation.OnScheduling = true
	f.Navigation.Reason = reason
	f.Navigation.DestinationURL = destinationURL
	return f, wasUnknown
}

// AddScript inserts a ScriptRecord for (frameId, scriptId), creating the
// frame urgently if it is not yet known (a scriptParsed can race a late
// frameAttached). Returns the new record and the frame it was added to.
func (s *Store) AddScript(frameID, scriptID, domain, contentHash string, u *url.URL) (*ScriptRecord, *FrameRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.frames[frameID]
	if !ok {
		f = newFrameRecord(frameID, true)
		s.frames[frameID] = f
	}
	rec := newScriptRecord(frameID, scriptID, domain, contentHash, u)
	f.Scripts[scriptID] = rec
	return rec, f
}

// WithFrame runs fn with the store's lock held and the frame for frameID
// (nil if absent). Used by handlers that need several related reads/writes
// on one frame to be atomic without exposing the lock itself.
func (s *Store) WithFrame(frameID string, fn func(f *FrameRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.frames[frameID]
	fn(f)
}

// PurgeStaleNetworkSessions removes NetworkSession entries older than
// MaxLiveTime from frameID. Called lazily on each requestWillBeSent.
func (s *Store) PurgeStaleNetworkSessions(frameID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.frames[frameID]
	if !ok {
		return
	}
	for id, session := range f.NetworkSessions {
		if now.Sub(session.BornTime) > MaxLiveTime {
			delete(f.NetworkSessions, id)
		}
	}
}

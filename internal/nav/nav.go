// Package nav implements the Navigation Correlator (C5): it remembers
// scheduled or requested navigations per frame and classifies the eventual
// frameNavigated by cause.
package nav

import "sync"

// Reason is the normalized navigation cause.
type Reason string

const (
	ReasonScript Reason = "script"
	ReasonHTTP   Reason = "http"
	ReasonHTML   Reason = "html"
	ReasonUser   Reason = "user"
	ReasonOther  Reason = "other"
)

// NormalizeReason maps a raw CDP navigation reason string to the engine's
// normalized Reason per spec §4.5: scriptInitiated→script,
// metaTagRefresh→html, httpHeaderRefresh→http, anchorClick→user, else other.
func NormalizeReason(raw string) Reason {
	switch raw {
	case "scriptInitiated":
		return ReasonScript
	case "metaTagRefresh":
		return ReasonHTML
	case "httpHeaderRefresh":
		return ReasonHTTP
	case "anchorClick":
		return ReasonUser
	default:
		return ReasonOther
	}
}

// Label renders the capitalized form used in the synthesized event name
// "[Frame Navigate by <Reason>]".
func (r Reason) Label() string {
	switch r {
	case ReasonScript:
		return "Script"
	case ReasonHTTP:
		return "HTTP"
	case ReasonHTML:
		return "HTML"
	case ReasonUser:
		return "User"
	default:
		return "Other"
	}
}

// Entry is one ScheduledNavigations slot: the normalized reason recorded by
// frameRequestNavigation/frameScheduledNavigation ahead of the actual
// navigation, plus an optional disposition noted by the request handler.
type Entry struct {
	Reason      Reason
	Disposition string
}

// Correlator owns the ScheduledNavigations map, keyed by frame UID. All
// access is serialized by its own lock, disjoint from the frame-state,
// session-registry, and pending-commands locks (spec §5).
type Correlator struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewCorrelator creates an empty navigation correlator.
func NewCorrelator() *Correlator {
	return &Correlator{entries: make(map[string]Entry)}
}

// Schedule records a normalized reason for frameUID if, and only if, no
// entry exists yet for that UID (first-wins, spec §4.5). Returns the
// reason that ended up stored (the new one, or the pre-existing one if this
// call lost the race) and whether this call was the one that stored it.
func (c *Correlator) Schedule(frameUID string, rawReason string) (stored Reason, wasFirst bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[frameUID]; ok {
		return existing.Reason, false
	}
	reason := NormalizeReason(rawReason)
	c.entries[frameUID] = Entry{Reason: reason}
	return reason, true
}

// Pop removes and returns the ScheduledNavigations entry for frameUID, if
// any. Called by the frameNavigated handler exactly once per navigation.
func (c *Correlator) Pop(frameUID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[frameUID]
	if ok {
		delete(c.entries, frameUID)
	}
	return e, ok
}

// Discard removes any ScheduledNavigations entry for frameUID without
// returning it, used when a frame is destroyed (spec §4.4).
func (c *Correlator) Discard(frameUID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, frameUID)
}

// SetDisposition attaches a disposition string to an existing entry, if
// one exists, leaving the reason untouched.
func (c *Correlator) SetDisposition(frameUID, disposition string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[frameUID]; ok {
		e.Disposition = disposition
		c.entries[frameUID] = e
	}
}

// Len reports how many scheduled navigations are outstanding.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

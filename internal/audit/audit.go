// Package audit implements the Audit Sink (C8): it stamps synthesized
// audit events with a stable numeric id and timestamp, serializes them, and
// delivers the result to a local log file and, optionally, a remote HTTP
// endpoint.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrDisabled is returned by Log when the named event is currently
// disabled; the caller should treat this as a no-op, not a failure.
var ErrDisabled = fmt.Errorf("audit: event disabled")

// Registry assigns a stable numeric id to each audit event name and tracks
// its enable/disable state via the sign of the stored id, per invariant 1:
// positive = enabled, negated = disabled.
type Registry struct {
	mu   sync.Mutex
	ids  map[string]int
	next int
}

// NewRegistry creates an empty, all-enabled event registry. next starts at
// 1, matching the Command Router's id-tie-break convention (§4.2).
func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]int), next: 1}
}

// idFor returns the stable unsigned id for name, minting one on first use.
func (r *Registry) idFor(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return abs(r.mintLocked(name))
}

// Enable flips an event name's sign positive, minting an id first if name
// has never been seen (an operator may disable/enable an event before the
// engine has ever emitted it).
func (r *Registry) Enable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[name] = abs(r.mintLocked(name))
}

// Disable flips an event name's sign negative, minting an id first if name
// has never been seen.
func (r *Registry) Disable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[name] = -abs(r.mintLocked(name))
}

// mintLocked returns name's id, minting one if unseen. Caller holds mu.
func (r *Registry) mintLocked(name string) int {
	if id, ok := r.ids[name]; ok {
		return id
	}
	id := r.next
	r.next++
	r.ids[name] = id
	return id
}

// IsEnabled reports whether name is currently enabled. An unseen name is
// treated as enabled (it has not been minted yet).
func (r *Registry) IsEnabled(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.ids[name]
	return !ok || id > 0
}

// Active returns every currently-enabled event name ("event show active").
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for name, id := range r.ids {
		if id > 0 {
			names = append(names, name)
		}
	}
	return names
}

// All returns every registered event name regardless of state
// ("event show all").
func (r *Registry) All() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.ids))
	for name := range r.ids {
		names = append(names, name)
	}
	return names
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// RemoteConfig describes the optional HTTP delivery endpoint.
type RemoteConfig struct {
	Enabled  bool
	Scheme   string
	UseSSL   bool
	Host     string
	Port     int
	Hostname string
	LogTag   string
}

// Sink is the C8 audit event delivery pipeline: one local file, one
// optional remote POST target, shared event Registry.
type Sink struct {
	mu       sync.Mutex
	registry *Registry
	strict   bool
	disabled bool

	username string
	tag      string
	logDir   string
	file     *os.File

	remote     RemoteConfig
	httpClient *http.Client
}

// envelope is the structured payload emitted in strict mode (spec §4.8).
type envelope struct {
	EventNumber int             `json:"eventNumber"`
	EventName   string          `json:"eventName"`
	EventData   json.RawMessage `json:"eventData"`
	Timestamp   string          `json:"timestamp"`
}

// remoteBody wraps the envelope with the two fields a remote aggregator
// expects to find at the top level.
type remoteBody struct {
	envelope
	Fields remoteFields `json:"fields"`
}

type remoteFields struct {
	Hostname string `json:"hostname"`
	LogTag   string `json:"logtag"`
}

// NewSink opens (append-or-create) "<username>-<tag>.log" under logDir and
// returns a ready Sink. strict toggles the structured envelope; remote, if
// Enabled, additionally POSTs every logged event.
func NewSink(registry *Registry, logDir, username, tag string, strict bool, remote RemoteConfig) (*Sink, error) {
	s := &Sink{
		registry:   registry,
		strict:     strict,
		username:   username,
		tag:        tag,
		logDir:     logDir,
		remote:     remote,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	if err := s.reopen(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) path() string {
	return filepath.Join(s.logDir, fmt.Sprintf("%s-%s.log", s.username, s.tag))
}

// reopen closes any previously-open stream and opens (append-or-create) the
// current username/tag log file. Called at construction and whenever
// "log config set" changes username or tag.
func (s *Sink) reopen() error {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
	f, err := os.OpenFile(s.path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit: open log file: %w", err)
	}
	s.file = f
	return nil
}

// SetUsernameTag changes the username/tag pair and reopens the log file
// ("log config set").
func (s *Sink) SetUsernameTag(username, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.username, s.tag = username, tag
	return s.reopen()
}

// SetLogDir changes the log directory and reopens the log file
// ("log config cd").
func (s *Sink) SetLogDir(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logDir = dir
	return s.reopen()
}

// Pause disables all future delivery without closing the file ("log
// pause"). The distinction from Close is that the handle stays open.
func (s *Sink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = true
}

// Start re-enables delivery after Pause ("log start").
func (s *Sink) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = false
}

// Log stamps eventName with its stable id and the current time, serializes
// payload, and delivers to the local file and (if configured) the remote
// endpoint. Returns ErrDisabled without writing if eventName is currently
// disabled or the sink itself is paused.
func (s *Sink) Log(eventName string, payload interface{}) error {
	if !s.registry.IsEnabled(eventName) {
		return ErrDisabled
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("audit: marshal payload: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	id := s.registry.idFor(eventName)

	var line string
	if s.strict {
		env := envelope{EventNumber: id, EventName: eventName, EventData: payloadJSON, Timestamp: now}
		envJSON, err := json.Marshal(env)
		if err != nil {
			return fmt.Errorf("audit: marshal envelope: %w", err)
		}
		line = fmt.Sprintf("%s - %d - %s - %s", now, id, eventName, string(envJSON))
	} else {
		line = fmt.Sprintf("%s - %d - %s - %s", now, id, eventName, string(payloadJSON))
	}

	s.mu.Lock()
	if s.disabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	_, writeErr := fmt.Fprintln(s.file, line)
	s.mu.Unlock()
	if writeErr != nil {
		return fmt.Errorf("audit: write log file: %w", writeErr)
	}

	// deliverRemote performs its own HTTP POST with a multi-second timeout;
	// it must never run while s.mu is held, or one slow/down remote
	// endpoint would serialize every handler's audit emission behind it.
	if s.remote.Enabled {
		s.deliverRemote(id, eventName, payloadJSON, now)
	}
	return nil
}

// deliverRemote is best-effort per the LogSinkError policy (§7): remote
// failures are swallowed, never surfaced as a Log error.
func (s *Sink) deliverRemote(id int, eventName string, payloadJSON json.RawMessage, timestamp string) {
	body := remoteBody{
		envelope: envelope{EventNumber: id, EventName: eventName, EventData: payloadJSON, Timestamp: timestamp},
		Fields:   remoteFields{Hostname: s.remote.Hostname, LogTag: s.remote.LogTag},
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return
	}

	scheme := s.remote.Scheme
	if scheme == "" {
		if s.remote.UseSSL {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	url := fmt.Sprintf("%s://%s:%d", scheme, s.remote.Host, s.remote.Port)

	resp, err := s.httpClient.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		return
	}
	resp.Body.Close()
}

// Close flushes and closes the local file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

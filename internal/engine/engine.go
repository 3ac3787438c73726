// Package engine wires the Dispatcher and Handlers (C6/C7): it registers
// one handler per consumed CDP method against a cdp.Client, and those
// handlers mutate the Session Registry, Frame/Script State, and Navigation
// Correlator, emitting synthesized events to the Audit Sink.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"chromon/internal/audit"
	"chromon/internal/cdp"
	"chromon/internal/nav"
	"chromon/internal/session"
	"chromon/internal/state"
)

// Engine is the single value owning every handler family's dependencies,
// replacing the source's class-level mutable globals (spec §9).
type Engine struct {
	client   *cdp.Client
	sessions *session.Registry
	frames   *state.Store
	nav      *nav.Correlator
	sink     *audit.Sink
	logger   *zap.Logger
}

// New constructs an Engine and registers every handler named in spec §4.7
// against client. Returns a ConfigError (wrapping cdp.ErrDuplicateHandler)
// if any method is registered twice — registration is static and checked
// once, at startup, never again.
func New(client *cdp.Client, sink *audit.Sink, logger *zap.Logger) (*Engine, error) {
	e := &Engine{
		client:   client,
		sessions: session.NewRegistry(),
		frames:   state.NewStore(),
		nav:      nav.NewCorrelator(),
		sink:     sink,
		logger:   logger,
	}

	registrations := []struct {
		method  string
		handler func(cdp.Event)
	}{
		{"Target.attachedToTarget", e.onAttachedToTarget},
		{"Target.targetCreated", e.onTargetCreated},
		{"Target.targetInfoChanged", e.onTargetInfoChanged},
		{"Target.targetDestroyed", e.onTargetDestroyed},
		{"Page.frameAttached", e.onFrameAttached},
		{"Page.frameNavigated", e.onFrameNavigated},
		{"Page.frameRequestNavigation", e.onFrameRequestNavigation},
		{"Page.frameScheduledNavigation", e.onFrameScheduledNavigation},
		{"Page.downloadWillBegin", e.onDownloadWillBegin},
		{"Browser.downloadWillBegin", e.onDownloadWillBegin},
		{"Page.fileChooserOpened", e.onFileChooserOpened},
		{"Debugger.scriptParsed", e.onScriptParsed},
		{"Network.requestWillBeSent", e.onRequestWillBeSent},
		{"Network.responseReceived", e.onResponseReceived},
	}

	for _, r := range registrations {
		if err := client.Register(r.method, r.handler); err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
	}
	return e, nil
}

func (e *Engine) logf(msg string, fields ...zap.Field) {
	if e.logger != nil {
		e.logger.Debug(msg, fields...)
	}
}

func (e *Engine) audit(eventName string, payload interface{}) {
	if err := e.sink.Log(eventName, payload); err != nil && err != audit.ErrDisabled && e.logger != nil {
		e.logger.Warn("audit sink delivery failed", zap.String("event", eventName), zap.Error(err))
	}
}

func parseParams[T any](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func parsedURL(rawURL string) *url.URL {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return u
}

// --- Target.attachedToTarget --------------------------------------------

func (e *Engine) onAttachedToTarget(evt cdp.Event) {
	params, err := parseParams[attachedToTargetParams](evt.Params)
	if err != nil {
		e.logf("malformed attachedToTarget", zap.Error(err))
		return
	}

	e.sessions.CompleteAttach(params.TargetInfo.TargetID, params.SessionID)

	if params.TargetInfo.Type == "page" || params.TargetInfo.Type == "iframe" {
		openerNewlyKnown, rec := e.frames.Reconcile(
			params.TargetInfo.TargetID,
			params.TargetInfo.Title,
			parsedURL(params.TargetInfo.URL),
			params.TargetInfo.Type == "page",
			params.TargetInfo.OpenerID,
			"",
		)
		e.audit("[Frame Info Update to]", frameInfoPayload(rec))

		if openerNewlyKnown {
			name := "[Sub-Frame Created]"
			if rec.IsMainFrame {
				name = "[Main Frame Created]"
			}
			e.audit(name, frameInfoPayload(rec))
		} else if rec.IsMainFrame {
			// First announcement of a main frame with no opener: still a
			// creation event, just without an opener link to report.
			e.audit("[Main Frame Created]", frameInfoPayload(rec))
		}
	}

	e.runInitSequence(context.Background(), params.SessionID, params.TargetInfo.Type)
}

func frameInfoPayload(f *state.FrameRecord) map[string]interface{} {
	if f == nil {
		return map[string]interface{}{}
	}
	urlStr := ""
	if f.URL != nil {
		urlStr = f.URL.String()
	}
	return map[string]interface{}{
		"frameId":    f.FrameID,
		"uid":        f.UID,
		"title":      f.Title,
		"url":        urlStr,
		"mainFrame":  f.IsMainFrame,
		"opener":     f.OpenerFrameUID,
	}
}

// runInitSequence issues the fixed command sequence spec §4.7 requires for
// every newly attached session, plus the browser-only download command.
// Commands are fire-and-forget from the caller's perspective: each session
// cooperatively proceeds independently of the others.
func (e *Engine) runInitSequence(ctx context.Context, sessionID, targetType string) {
	send := func(method string, params interface{}) {
		if _, err := e.client.SendToSession(ctx, sessionID, method, params); err != nil {
			e.logf("init command failed", zap.String("method", method), zap.Error(err))
		}
	}

	send("Target.setAutoAttach", map[string]interface{}{"autoAttach": false, "flatten": true})
	send("Target.setDiscoverTargets", map[string]interface{}{"discover": true})
	send("Page.enable", nil)
	send("Network.enable", nil)
	send("Network.setAttachDebugStack", map[string]interface{}{"enabled": true})
	send("Debugger.enable", nil)
	send("Debugger.setAsyncCallStackDepth", map[string]interface{}{"maxDepth": 20})
	send("Runtime.enable", nil)
	send("Runtime.setAsyncCallStackDepth", map[string]interface{}{"maxDepth": 20})
	send("Page.setInterceptFileChooserDialog", map[string]interface{}{"enabled": true})
	send("DOM.enable", nil)
	send("DOM.setNodeStackTracesEnabled", map[string]interface{}{"enable": true})
	send("DOM.focus", nil)

	if targetType == "browser" {
		send("Browser.setDownloadBehavior", map[string]interface{}{"behavior": "allow", "eventsEnabled": true})
	}
}

// --- Target.targetCreated -------------------------------------------------

var attachableTargetTypes = map[string]bool{
	"page": true, "iframe": true, "browser": true, "script": true,
}

func (e *Engine) onTargetCreated(evt cdp.Event) {
	params, err := parseParams[targetCreatedParams](evt.Params)
	if err != nil {
		e.logf("malformed targetCreated", zap.Error(err))
		return
	}
	if !attachableTargetTypes[params.TargetInfo.Type] {
		return
	}
	if !e.sessions.BeginAttach(params.TargetInfo.TargetID) {
		return // already pending or attached: duplicate create, suppressed (S5)
	}
	ctx, cancel := context.WithTimeout(context.Background(), cdp.DefaultTimeout)
	defer cancel()
	if _, err := e.client.SendContext(ctx, "Target.attachToTarget", "", map[string]interface{}{
		"targetId": params.TargetInfo.TargetID,
		"flatten":  true,
	}); err != nil {
		e.logf("attachToTarget failed", zap.String("targetId", params.TargetInfo.TargetID), zap.Error(err))
	}
}

// --- Target.targetInfoChanged ---------------------------------------------

func (e *Engine) onTargetInfoChanged(evt cdp.Event) {
	params, err := parseParams[targetInfoChangedParams](evt.Params)
	if err != nil {
		e.logf("malformed targetInfoChanged", zap.Error(err))
		return
	}

	// Accept only if a session is recorded for this target at all; a
	// targetInfoChanged for a target we never attached is not ours to act on.
	if _, ok := e.sessions.SessionFor(params.TargetInfo.TargetID); !ok {
		return
	}

	fired, rec := e.frames.UpdateTitleIfFirst(params.TargetInfo.TargetID, params.TargetInfo.Title)
	if rec == nil {
		return
	}
	if fired {
		e.audit("[Frame Info Update to]", frameInfoPayload(rec))
	}
}

// --- Target.targetDestroyed -------------------------------------------------

func (e *Engine) onTargetDestroyed(evt cdp.Event) {
	params, err := parseParams[targetDestroyedParams](evt.Params)
	if err != nil {
		e.logf("malformed targetDestroyed", zap.Error(err))
		return
	}

	e.sessions.ReleaseTarget(params.TargetID)
	e.audit("[Target Destroyed]", map[string]interface{}{"targetId": params.TargetID})

	if uid, existed := e.frames.Destroy(params.TargetID); existed {
		e.nav.Discard(uid)
	}
}

// --- Page.frameAttached -----------------------------------------------------

func (e *Engine) onFrameAttached(evt cdp.Event) {
	params, err := parseParams[frameAttachedParams](evt.Params)
	if err != nil {
		e.logf("malformed frameAttached", zap.Error(err))
		return
	}

	if params.ParentFrameID != "" {
		e.frames.GetOrCreateUrgent(params.ParentFrameID)
	}
	child, _ := e.frames.GetOrCreateUrgent(params.FrameID)

	e.audit("[Frame Attach to Frame]", map[string]interface{}{
		"frameId":       params.FrameID,
		"parentFrameId": params.ParentFrameID,
	})

	if params.Stack == nil {
		return
	}
	parent, ok := e.frames.Get(params.ParentFrameID)
	if !ok {
		return
	}

	// Search the parent frame's known scripts first, then fall back to the
	// session's backend target's scripts for a script parsed on the
	// attaching session but not yet attributed to the parent frame.
	flat := state.Flatten(params.Stack.toRaw())
	childScript := &state.ScriptRecord{ScriptID: child.FrameID, ContentHash: child.UID}
	edge, ok := state.ExtractSpawnEdge(flat, parent.Scripts, childScript)
	if !ok {
		if backendFrameID, found := e.sessions.TargetFor(evt.SessionID); found && backendFrameID != params.ParentFrameID {
			if backend, found := e.frames.Get(backendFrameID); found {
				edge, ok = state.ExtractSpawnEdge(flat, mergeScripts(parent.Scripts, backend.Scripts), childScript)
			}
		}
	}
	if ok {
		e.audit("[Script Create Sub-Frame]", map[string]interface{}{
			"parentScriptId": edge.From.ScriptID,
			"frameId":        params.FrameID,
		})
	}
}

// mergeScripts combines two frames' known-script maps for the spawn-edge
// search in onFrameAttached, with primary entries taking precedence over
// fallback entries on scriptId collision.
func mergeScripts(primary, fallback map[string]*state.ScriptRecord) map[string]*state.ScriptRecord {
	merged := make(map[string]*state.ScriptRecord, len(primary)+len(fallback))
	for id, rec := range fallback {
		merged[id] = rec
	}
	for id, rec := range primary {
		merged[id] = rec
	}
	return merged
}

// --- Debugger.scriptParsed ----------------------------------------------------

func (e *Engine) onScriptParsed(evt cdp.Event) {
	params, err := parseParams[scriptParsedParams](evt.Params)
	if err != nil {
		e.logf("malformed scriptParsed", zap.Error(err))
		return
	}

	// scriptParsed does not carry a frameId on the wire in all CDP versions;
	// the session backing this event maps 1:1 to the frame's target.
	frameID, ok := e.sessions.TargetFor(evt.SessionID)
	if !ok {
		return
	}

	domain := hostOf(params.URL)
	rec, frame := e.frames.AddScript(frameID, params.ScriptID, domain, params.Hash, parsedURL(params.URL))

	if params.StackTrace != nil {
		flat := state.Flatten(params.StackTrace.toRaw())
		if edge, ok := state.ExtractSpawnEdge(flat, frame.Scripts, rec); ok {
			e.audit("[Script Spawn Script]", map[string]interface{}{
				"parentScriptId": edge.From.ScriptID,
				"childScriptId":  edge.To.ScriptID,
				"frameId":        frameID,
			})
		}
		for _, edge := range state.ExtractCallEdges(flat, frame.Scripts) {
			e.audit("[Script Call Script]", map[string]interface{}{
				"callerScriptId": edge.From.ScriptID,
				"calleeScriptId": edge.To.ScriptID,
				"frameId":        frameID,
			})
		}
	}

	if !strings.HasSuffix(parsedScheme(params.URL), "-extension") {
		e.audit("[Frame Execute Script]", map[string]interface{}{
			"frameId":  frameID,
			"scriptId": params.ScriptID,
			"url":      params.URL,
			"domain":   domain,
		})
	}
}

func parsedScheme(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Scheme
}

// --- Page.frameRequestNavigation / frameScheduledNavigation --------------------

func (e *Engine) onFrameRequestNavigation(evt cdp.Event) {
	params, err := parseParams[frameRequestNavigationParams](evt.Params)
	if err != nil {
		e.logf("malformed frameRequestNavigation", zap.Error(err))
		return
	}
	e.scheduleNavigation(params.FrameID, params.Reason, params.URL, params.Disposition)
}

func (e *Engine) onFrameScheduledNavigation(evt cdp.Event) {
	params, err := parseParams[frameScheduledNavigationParams](evt.Params)
	if err != nil {
		e.logf("malformed frameScheduledNavigation", zap.Error(err))
		return
	}
	e.scheduleNavigation(params.FrameID, params.Reason, params.URL, "")
}

func (e *Engine) scheduleNavigation(frameID, rawReason, destURL, disposition string) {
	frame, wasUnknown := e.frames.SetScheduling(frameID, string(nav.NormalizeReason(rawReason)), destURL)
	_ = wasUnknown
	e.nav.Schedule(frame.UID, rawReason)
	if disposition != "" {
		e.nav.SetDisposition(frame.UID, disposition)
	}
}

// --- Page.frameNavigated --------------------------------------------------------

func (e *Engine) onFrameNavigated(evt cdp.Event) {
	params, err := parseParams[frameNavigatedParams](evt.Params)
	if err != nil {
		e.logf("malformed frameNavigated", zap.Error(err))
		return
	}

	preUID, rec, wasUnknown := e.frames.Navigate(params.Frame.ID, params.Frame.LoaderID, parsedURL(params.Frame.URL))

	var reason nav.Reason
	if wasUnknown {
		reason = nav.ReasonOther
	} else if entry, ok := e.nav.Pop(preUID); ok {
		reason = entry.Reason
	} else {
		reason = nav.ReasonUser
	}

	e.audit("[Frame Navigate by "+reason.Label()+"]", map[string]interface{}{
		"frameId": rec.FrameID,
		"uid":     rec.UID,
		"url":     params.Frame.URL,
	})
}

// --- Network.requestWillBeSent / responseReceived ------------------------------

func (e *Engine) onRequestWillBeSent(evt cdp.Event) {
	params, err := parseParams[requestWillBeSentParams](evt.Params)
	if err != nil {
		e.logf("malformed requestWillBeSent", zap.Error(err))
		return
	}

	now := time.Now()
	e.frames.PurgeStaleNetworkSessions(params.FrameID, now)

	var matchedScript *state.ScriptRecord

	e.frames.WithFrame(params.FrameID, func(f *state.FrameRecord) {
		if f == nil {
			return
		}
		netSession, ok := f.NetworkSessions[params.RequestID]
		if !ok {
			netSession = &state.NetworkSession{RequestID: params.RequestID, BornTime: now}
			f.NetworkSessions[params.RequestID] = netSession
		}
		netSession.Sequence = append(netSession.Sequence, state.NetworkEntry{
			Request: state.RequestInfo{
				Method:        params.Request.Method,
				URL:           params.Request.URL,
				InitiatorType: params.Initiator.Type,
				WallTime:      now,
			},
		})
		if params.RedirectResponse != nil && len(netSession.Sequence) >= 2 {
			idx := len(netSession.Sequence) - 2
			netSession.Sequence[idx].Response = &state.ResponseInfo{
				Status:   params.RedirectResponse.Status,
				MimeType: params.RedirectResponse.MimeType,
			}
		}

		if params.Initiator.Type == "script" {
			if scriptID := lastScriptIDOnStack(params.Initiator.Stack); scriptID != "" {
				matchedScript = f.Scripts[scriptID]
			}
		}

		if f.Navigation.OnScheduling &&
			f.Navigation.Reason == string(nav.ReasonScript) &&
			params.Request.Method == "GET" &&
			params.Request.URL == f.Navigation.DestinationURL &&
			matchedScript != nil {
			f.Navigation.Script = matchedScript
			f.Navigation.NetworkSession = netSession
		}
	})

	e.audit("[Frame Request to Host]", map[string]interface{}{
		"frameId": params.FrameID,
		"host":    hostOf(params.Request.URL),
	})

	if matchedScript != nil {
		e.audit("[Script Request to Host]", map[string]interface{}{
			"frameId":     params.FrameID,
			"contentHash": matchedScript.ContentHash,
			"host":        hostOf(params.Request.URL),
		})
	}

	if params.RedirectResponse != nil {
		e.audit("[Host Redirect to Host]", map[string]interface{}{
			"frameId": params.FrameID,
			"from":    hostOf(params.RedirectResponse.URL),
			"to":      hostOf(params.Request.URL),
		})
	}
}

func lastScriptIDOnStack(t *stackTrace) string {
	if t == nil || len(t.CallFrames) == 0 {
		return ""
	}
	return t.CallFrames[0].ScriptID
}

func (e *Engine) onResponseReceived(evt cdp.Event) {
	params, err := parseParams[responseReceivedParams](evt.Params)
	if err != nil {
		e.logf("malformed responseReceived", zap.Error(err))
		return
	}

	e.frames.WithFrame(params.FrameID, func(f *state.FrameRecord) {
		if f == nil {
			return
		}
		netSession, ok := f.NetworkSessions[params.RequestID]
		if !ok || len(netSession.Sequence) == 0 {
			return
		}
		netSession.Sequence[len(netSession.Sequence)-1].Response = &state.ResponseInfo{
			Status:   params.Response.Status,
			MimeType: params.Response.MimeType,
		}
	})
}

// --- Page.downloadWillBegin / Browser.downloadWillBegin / fileChooserOpened ----

func (e *Engine) onDownloadWillBegin(evt cdp.Event) {
	params, err := parseParams[downloadWillBeginParams](evt.Params)
	if err != nil {
		e.logf("malformed downloadWillBegin", zap.Error(err))
		return
	}
	uid := ""
	if f, ok := e.frames.Get(params.FrameID); ok {
		uid = f.UID
	}
	e.audit("[File Download Start]", map[string]interface{}{
		"frameId": params.FrameID,
		"uid":     uid,
		"url":     params.URL,
		"guid":    params.GUID,
	})
}

// Snapshot exposes a frame's current state for the console's "chrome config"
// introspection command, and for tests. Returns nil if
// frameID is not tracked.
func (e *Engine) Snapshot(frameID string) *state.FrameRecord {
	f, ok := e.frames.Get(frameID)
	if !ok {
		return nil
	}
	return f.Snapshot()
}

// ActiveNavigations reports how many navigations are currently scheduled but
// not yet resolved by a frameNavigated, for console diagnostics.
func (e *Engine) ActiveNavigations() int {
	return e.nav.Len()
}

func (e *Engine) onFileChooserOpened(evt cdp.Event) {
	params, err := parseParams[fileChooserOpenedParams](evt.Params)
	if err != nil {
		e.logf("malformed fileChooserOpened", zap.Error(err))
		return
	}
	uid := ""
	if f, ok := e.frames.Get(params.FrameID); ok {
		uid = f.UID
	}
	e.audit("[File Chooser Opened]", map[string]interface{}{
		"frameId": params.FrameID,
		"uid":     uid,
		"mode":    params.Mode,
	})
}

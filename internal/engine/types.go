package engine

import "chromon/internal/state"

// The structs below are minimal wire shapes for the CDP events and params
// this engine consumes (spec §6); unused protocol fields are omitted.

// TargetInfo mirrors CDP's Target.TargetInfo.
type TargetInfo struct {
	TargetID         string `json:"targetId"`
	Type             string `json:"type"`
	Title            string `json:"title"`
	URL              string `json:"url"`
	Attached         bool   `json:"attached"`
	OpenerID         string `json:"openerId,omitempty"`
	BrowserContextID string `json:"browserContextId,omitempty"`
	CanAccessOpener  bool   `json:"canAccessOpener,omitempty"`
}

type attachedToTargetParams struct {
	SessionID          string     `json:"sessionId"`
	TargetInfo         TargetInfo `json:"targetInfo"`
	WaitingForDebugger bool       `json:"waitingForDebugger"`
}

type targetCreatedParams struct {
	TargetInfo TargetInfo `json:"targetInfo"`
}

type targetInfoChangedParams struct {
	TargetInfo TargetInfo `json:"targetInfo"`
}

type targetDestroyedParams struct {
	TargetID  string `json:"targetId"`
	SessionID string `json:"sessionId,omitempty"`
}

// callFrame mirrors CDP's Runtime.CallFrame.
type callFrame struct {
	FunctionName string `json:"functionName"`
	ScriptID     string `json:"scriptId"`
	URL          string `json:"url"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber"`
}

// stackTrace mirrors CDP's Runtime.StackTrace, including the nested parent
// chain flattened by state.Flatten on ingestion (spec §4.4, §9).
type stackTrace struct {
	Description string      `json:"description,omitempty"`
	CallFrames  []callFrame `json:"callFrames"`
	Parent      *stackTrace `json:"parent,omitempty"`
}

func (t *stackTrace) toRaw() *state.RawStackTrace {
	if t == nil {
		return nil
	}
	frames := make([]state.CallFrame, 0, len(t.CallFrames))
	for _, cf := range t.CallFrames {
		frames = append(frames, state.CallFrame{ScriptID: cf.ScriptID})
	}
	return &state.RawStackTrace{CallFrames: frames, Parent: t.Parent.toRaw()}
}

type frameAttachedParams struct {
	FrameID       string      `json:"frameId"`
	ParentFrameID string      `json:"parentFrameId"`
	Stack         *stackTrace `json:"stack,omitempty"`
}

// pageFrame mirrors the embedded Frame object of Page.frameNavigated.
type pageFrame struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId,omitempty"`
	LoaderID string `json:"loaderId"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
}

type frameNavigatedParams struct {
	Frame pageFrame `json:"frame"`
}

type frameRequestNavigationParams struct {
	FrameID     string `json:"frameId"`
	URL         string `json:"url"`
	Reason      string `json:"reason"`
	Disposition string `json:"disposition,omitempty"`
}

type frameScheduledNavigationParams struct {
	FrameID string  `json:"frameId"`
	Delay   float64 `json:"delay"`
	Reason  string  `json:"reason"`
	URL     string  `json:"url"`
}

type scriptParsedParams struct {
	ScriptID   string      `json:"scriptId"`
	URL        string      `json:"url"`
	Hash       string      `json:"hash"`
	StackTrace *stackTrace `json:"stackTrace,omitempty"`
}

type initiator struct {
	Type  string      `json:"type"`
	Stack *stackTrace `json:"stack,omitempty"`
}

type requestPayload struct {
	URL    string `json:"url"`
	Method string `json:"method"`
}

type redirectResponse struct {
	URL      string `json:"url"`
	Status   int    `json:"status"`
	MimeType string `json:"mimeType"`
}

type requestWillBeSentParams struct {
	RequestID        string            `json:"requestId"`
	FrameID          string            `json:"frameId"`
	Request          requestPayload    `json:"request"`
	Initiator        initiator         `json:"initiator"`
	RedirectResponse *redirectResponse `json:"redirectResponse,omitempty"`
	WallTime         float64           `json:"wallTime"`
}

type responsePayload struct {
	Status   int    `json:"status"`
	MimeType string `json:"mimeType"`
}

type responseReceivedParams struct {
	RequestID string          `json:"requestId"`
	FrameID   string          `json:"frameId"`
	Response  responsePayload `json:"response"`
}

type downloadWillBeginParams struct {
	FrameID           string `json:"frameId"`
	GUID              string `json:"guid"`
	URL               string `json:"url"`
	SuggestedFilename string `json:"suggestedFilename"`
}

type fileChooserOpenedParams struct {
	FrameID string `json:"frameId"`
	Mode    string `json:"mode"`
}

package state

// CallFrame is one entry of a flattened CDP Runtime.StackTrace: a single
// {scriptId, contentHash} pair identifying the script executing at that
// point in the call chain.
type CallFrame struct {
	ScriptID    string
	ContentHash string
}

// RawStackTrace mirrors CDP's Runtime.StackTrace: a list of call frames for
// the current synchronous execution plus an optional parent (the trace that
// scheduled it, e.g. across a setTimeout or promise boundary).
type RawStackTrace struct {
	CallFrames []CallFrame
	Parent     *RawStackTrace
}

// Flatten walks the current-frame-then-parent chain and concatenates every
// level into one ordered, top-to-bottom sequence: index 0 is the innermost
// (most recently executing) frame, increasing indices walk outward through
// async boundaries into the scheduling script.
func Flatten(trace *RawStackTrace) []CallFrame {
	var out []CallFrame
	for t := trace; t != nil; t = t.Parent {
		out = append(out, t.CallFrames...)
	}
	return out
}

// CausalEdge is one attributed [Script Call Script] or [Script Spawn Script]
// edge: callerOrParent -> callee.
type CausalEdge struct {
	From *ScriptRecord
	To   *ScriptRecord
}

// ExtractCallEdges slides a width-2 window over the flattened stack and
// emits one edge per adjacent pair of distinct scripts, recording the
// callee's contentHash in the caller's CallScriptHistory so the same edge
// is never attributed twice from the same caller. frameScripts resolves a
// scriptId to its live ScriptRecord within the frame the trace belongs to.
func ExtractCallEdges(frames []CallFrame, frameScripts map[string]*ScriptRecord) []CausalEdge {
	var edges []CausalEdge
	for i := 0; i < len(frames)-1; i++ {
		caller := frameScripts[frames[i].ScriptID]
		callee := frameScripts[frames[i+1].ScriptID]
		if caller == nil || callee == nil {
			continue
		}
		if caller.ScriptID == callee.ScriptID {
			continue
		}
		if _, seen := caller.CallScriptHistory[callee.ContentHash]; seen {
			continue
		}
		caller.CallScriptHistory[callee.ContentHash] = struct{}{}
		edges = append(edges, CausalEdge{From: caller, To: callee})
	}
	return edges
}

// ExtractSpawnEdge walks the flattened stack in order and returns the
// nearest enclosing ScriptRecord in frameScripts — the first frame whose
// scriptId resolves to a known script — as the parent attributed for
// spawning child (e.g. a newly scriptParsed script, or a new frame). Returns
// ok=false if no enclosing script is found, or if child's contentHash is
// already in the parent's SpawnScriptHistory (already attributed).
func ExtractSpawnEdge(frames []CallFrame, frameScripts map[string]*ScriptRecord, child *ScriptRecord) (edge CausalEdge, ok bool) {
	if child == nil {
		return CausalEdge{}, false
	}
	for _, cf := range frames {
		parent := frameScripts[cf.ScriptID]
		if parent == nil {
			continue
		}
		if parent.ScriptID == child.ScriptID {
			continue
		}
		if _, seen := parent.SpawnScriptHistory[child.ContentHash]; seen {
			return CausalEdge{}, false
		}
		parent.SpawnScriptHistory[child.ContentHash] = struct{}{}
		return CausalEdge{From: parent, To: child}, true
	}
	return CausalEdge{}, false
}

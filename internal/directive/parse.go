package directive

import (
	"codechat/internal/logging"
)

// Parse runs the full grammar against the accumulated buffer and returns the
// current best-known set of every directive kind. It is a pure function of the
// buffer: safe to re-invoke on every streaming chunk, deterministic for the
// same input, and it never errors. A tag that has not finished streaming in
// simply does not appear in the snapshot yet.
//
// Each call fully re-scans the buffer. Buffers are bounded by a single chat
// message, so a stateful incremental scan is not worth its complexity.
func Parse(buffer string) ParsedDirectives {
	parsed := ParsedDirectives{
		FileEdits:         scanFileEdits(buffer),
		ShellCommands:     scanShellCommands(buffer),
		PackageInstalls:   scanPackageInstalls(buffer),
		WorkflowConfigs:   scanWorkflowConfigs(buffer),
		DeploymentConfigs: scanDeploymentConfigs(buffer),
		ToolNudges:        scanToolNudges(buffer),
		RAGSources:        scanRAGSources(buffer),
		ActionSummary:     scanActionSummary(buffer),
	}
	if n := parsed.Count(); n > 0 {
		logging.DirectiveDebug("Parse: buffer_len=%d directives=%d", len(buffer), n)
	}
	return parsed
}

// Tracker remembers which directive keys have already been reported across
// successive Parse snapshots of a growing buffer. The parser itself holds no
// cross-call state; the tracker is the caller-side memory that turns repeated
// full snapshots into a stream of newly-appeared directives.
type Tracker struct {
	seenFileEdits      map[string]bool
	seenShellCommands  map[string]bool
	seenPackages       map[string]bool
	seenWorkflows      map[string]bool
	seenDeployments    map[string]bool
	seenToolNudges     map[string]bool
	seenRAGSources     map[string]bool
	actionSummarySeen  bool
}

// NewTracker returns an empty tracker for one streaming turn.
func NewTracker() *Tracker {
	return &Tracker{
		seenFileEdits:     make(map[string]bool),
		seenShellCommands: make(map[string]bool),
		seenPackages:      make(map[string]bool),
		seenWorkflows:     make(map[string]bool),
		seenDeployments:   make(map[string]bool),
		seenToolNudges:    make(map[string]bool),
		seenRAGSources:    make(map[string]bool),
	}
}

// Diff returns the directives in the snapshot that have not been reported
// before, and marks them reported. Re-parsing a grown buffer therefore never
// re-emits a directive already seen under the same key.
func (t *Tracker) Diff(snapshot ParsedDirectives) ParsedDirectives {
	var fresh ParsedDirectives

	for _, e := range snapshot.FileEdits {
		if !t.seenFileEdits[e.Key()] {
			t.seenFileEdits[e.Key()] = true
			fresh.FileEdits = append(fresh.FileEdits, e)
		}
	}
	for _, c := range snapshot.ShellCommands {
		if !t.seenShellCommands[c.Key()] {
			t.seenShellCommands[c.Key()] = true
			fresh.ShellCommands = append(fresh.ShellCommands, c)
		}
	}
	for _, p := range snapshot.PackageInstalls {
		if !t.seenPackages[p.Key()] {
			t.seenPackages[p.Key()] = true
			fresh.PackageInstalls = append(fresh.PackageInstalls, p)
		}
	}
	for _, w := range snapshot.WorkflowConfigs {
		if !t.seenWorkflows[w.Key()] {
			t.seenWorkflows[w.Key()] = true
			fresh.WorkflowConfigs = append(fresh.WorkflowConfigs, w)
		}
	}
	for _, d := range snapshot.DeploymentConfigs {
		if !t.seenDeployments[d.Key()] {
			t.seenDeployments[d.Key()] = true
			fresh.DeploymentConfigs = append(fresh.DeploymentConfigs, d)
		}
	}
	for _, n := range snapshot.ToolNudges {
		if !t.seenToolNudges[n.Key()] {
			t.seenToolNudges[n.Key()] = true
			fresh.ToolNudges = append(fresh.ToolNudges, n)
		}
	}
	for _, r := range snapshot.RAGSources {
		if !t.seenRAGSources[r.Key()] {
			t.seenRAGSources[r.Key()] = true
			fresh.RAGSources = append(fresh.RAGSources, r)
		}
	}
	if snapshot.ActionSummary != "" && !t.actionSummarySeen {
		t.actionSummarySeen = true
		fresh.ActionSummary = snapshot.ActionSummary
	}

	return fresh
}

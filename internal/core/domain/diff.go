package domain

import "time"

// DiffType classifies one snapshot reconciliation outcome for a digest.
type DiffType string

const (
	DiffNew    DiffType = "new"
	DiffChange DiffType = "change"
	DiffBack   DiffType = "back"
	DiffRemove DiffType = "remove"
)

// Diff symbol keys used in serialized structural diffs. Replay maps
// them back to the corresponding operations.
const (
	SymInsert  = "__insert__"
	SymUpdate  = "__update__"
	SymDelete  = "__delete__"
	SymAdd     = "__add__"
	SymDiscard = "__discard__"
)

// DiffRecord is one entry of the append-only diff log.
type DiffRecord struct {
	RunID     string    `json:"run_id"`
	DGST      string    `json:"dgst"`
	Timestamp time.Time `json:"timestamp"`
	Type      DiffType  `json:"type"`
	// Diff holds the canonical JSON payload: the full record for
	// "new", the structural diff for "change", empty otherwise.
	Diff []byte `json:"diff,omitempty"`
}

// RunStats are the per-bucket counts of one pipeline run.
type RunStats struct {
	NewCerts   int            `json:"new_certs"`
	RemovedIDs int            `json:"removed_ids"`
	UpdatedIDs int            `json:"updated_ids"`
	ChangedIDs int            `json:"changed_ids"`
	CertStates map[string]int `json:"cert_states,omitempty"`
}

// RunRecord is one entry of the run log, totally ordered by StartTime.
type RunRecord struct {
	RunID       string    `json:"run_id"`
	Dataset     string    `json:"dataset"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	ToolVersion string    `json:"tool_version"`
	Length      int       `json:"length"`
	OK          bool      `json:"ok"`
	Error       string    `json:"error,omitempty"`
	Stats       RunStats  `json:"stats"`
}

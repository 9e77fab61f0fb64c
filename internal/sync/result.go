package sync

import (
	"github.com/vonshlovens/fieldsync/internal/media"
	"github.com/vonshlovens/fieldsync/internal/syncclient"
)

// Phase is a step of one sync invocation
type Phase string

const (
	PhaseIdle                 Phase = "idle"
	PhaseCheckingConnectivity Phase = "checking_connectivity"
	PhaseCollecting           Phase = "collecting"
	PhaseBuildingPayload      Phase = "building_payload"
	PhaseCallingServer        Phase = "calling_server"
	PhaseMarkingSynced        Phase = "marking_synced"
	PhaseSucceeded            Phase = "succeeded"
	PhaseFailed               Phase = "failed"
)

// ProgressFunc observes phase transitions
type ProgressFunc func(Phase)

// Counts is a per-type tally of rows
type Counts struct {
	Appointments int
	Masters      int
	Items        int
	Deletions    int
}

// Total sums every type
func (c Counts) Total() int {
	return c.Appointments + c.Masters + c.Items + c.Deletions
}

// Result is the outcome of SyncPendingChanges. Every failure is reported
// here; the engine does not return errors.
type Result struct {
	Success bool
	Offline bool
	Message string
	Error   string
	Phase   Phase

	Submitted   Counts
	Confirmed   Counts
	Unconfirmed int
	Remapped    int
	Rejected    []syncclient.RejectedRow

	// Shared is set when the result came from a sync already in flight
	Shared bool
}

// PendingCounts is the read-only breakdown used to gate and size a sync
type PendingCounts struct {
	Appointments int
	Masters      int
	Items        int
	Deletions    int
	Media        int
}

// Total is the number of data rows a sync would submit. Media is tracked
// separately.
func (p PendingCounts) Total() int {
	return p.Appointments + p.Masters + p.Items
}

// Progress is the running counter of a combined sync
type Progress struct {
	Stage     string
	Completed int
	Total     int
}

// AllResult is the outcome of SyncAll
type AllResult struct {
	Success bool
	Message string
	Data    Result
	Media   []*media.UploadResult
}

// PullResult summarises an appointment pull
type PullResult struct {
	Fetched      int
	Stored       int
	SkippedDirty int
}

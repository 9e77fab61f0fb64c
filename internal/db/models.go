package db

import (
	"encoding/json"
	"time"
)

// Appointment is a scheduled valuation visit
type Appointment struct {
	AppointmentID    int64
	OrderID          int64
	StartTime        *time.Time
	EndTime          *time.Time
	FollowUpDate     *time.Time
	ArrivalTime      *time.Time
	DepartureTime    *time.Time
	InviteStatus     string
	MeetingStatus    string
	Location         string
	Comments         string
	Category         string
	OutOfTown        int64
	SurveyorComments string
	EventID          string
	SurveyorEmail    string
	DateModified     *time.Time
	LastSyncedAt     *time.Time

	// Read-only on write: set through WriteOption and MarkSynced.
	PendingSync bool
	Rev         int64
}

// AssessmentMaster is the header record of one valuation survey
type AssessmentMaster struct {
	RiskAssessmentID   int64
	AssessmentTypeName string
	SurveyDate         *time.Time
	ClientNumber       string
	Comments           string
	TotalValue         float64
	IsComplete         bool

	PendingSync bool
	Rev         int64
}

// AssessmentItem is one captured inventory line
type AssessmentItem struct {
	RiskAssessmentItemID     int64
	RiskAssessmentCategoryID int64
	ItemPrompt               string
	ItemType                 int64
	Rank                     int64
	CommaSeparatedList       string
	SelectedAnswer           string
	Qty                      int64
	Price                    float64
	Description              string
	Model                    string
	Location                 string
	AssessmentRegisterID     int64
	AssessmentRegisterTypeID int64
	DateCreated              *time.Time
	CreatedByID              string
	DateUpdated              *time.Time
	UpdatedByID              string
	IsSynced                 bool
	SyncVersion              int64
	DeviceID                 string
	SyncStatus               string
	SyncTimestamp            *time.Time
	HasPhoto                 bool
	Latitude                 *float64
	Longitude                *float64
	Notes                    string

	PendingSync bool
	Rev         int64
}

// MediaFile is the local record of one photo
type MediaFile struct {
	MediaID    int64
	FileName   string
	FileType   string
	BlobURL    string
	EntityName string
	EntityID   int64
	UploadedBy string
	UploadedAt *time.Time
	IsDeleted  bool
	Metadata   json.RawMessage
	LocalPath  string

	PendingSync bool
	Rev         int64
}

// Tombstone records a deletion of a server-known row
type Tombstone struct {
	ID         int64
	EntityType Kind
	EntityID   int64
	DeletedAt  time.Time
}

// SyncMark identifies a row at the revision that was submitted to the
// server. A zero Rev clears the flag regardless of later edits.
type SyncMark struct {
	ID  int64
	Rev int64
}

// WriteOption adjusts insert/update behavior
type WriteOption func(*writeOptions)

type writeOptions struct {
	clean bool
}

// AsClean writes the row with pending_sync = 0, for data that came from the
// server and must not be echoed back.
func AsClean() WriteOption {
	return func(o *writeOptions) {
		o.clean = true
	}
}

func buildWriteOptions(opts []WriteOption) writeOptions {
	var wo writeOptions
	for _, opt := range opts {
		opt(&wo)
	}
	return wo
}

func (o writeOptions) pendingFlag() int {
	if o.clean {
		return 0
	}
	return 1
}

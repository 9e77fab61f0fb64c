package syncclient

import (
	"encoding/json"
	"time"
)

// Appointment is the server-facing appointment shape
type Appointment struct {
	AppointmentID    int64      `json:"appointmentID"`
	OrderID          int64      `json:"orderID"`
	StartTime        *time.Time `json:"startTime"`
	EndTime          *time.Time `json:"endTime"`
	FollowUpDate     *time.Time `json:"followUpDate"`
	ArrivalTime      *time.Time `json:"arrivalTime"`
	DepartureTime    *time.Time `json:"departureTime"`
	InviteStatus     string     `json:"inviteStatus"`
	MeetingStatus    string     `json:"meetingStatus"`
	Location         string     `json:"location"`
	Comments         string     `json:"comments"`
	Category         string     `json:"category"`
	OutOfTown        int64      `json:"outoftown"`
	SurveyorComments string     `json:"surveyorComments"`
	EventID          string     `json:"eventId"`
	SurveyorEmail    string     `json:"surveyorEmail"`
	DateModified     *time.Time `json:"dateModified"`
}

// RiskAssessmentMaster is the server-facing assessment master shape
type RiskAssessmentMaster struct {
	RiskAssessmentID   int64      `json:"riskassessmentid"`
	AssessmentTypeName string     `json:"assessmenttypename"`
	SurveyDate         *time.Time `json:"surveydate"`
	ClientNumber       string     `json:"clientnumber"`
	Comments           string     `json:"comments"`
	TotalValue         float64    `json:"totalvalue"`
	IsComplete         bool       `json:"iscomplete"`
}

// RiskAssessmentItem is the server-facing assessment item shape
type RiskAssessmentItem struct {
	RiskAssessmentItemID     int64      `json:"riskassessmentitemid"`
	RiskAssessmentCategoryID int64      `json:"riskassessmentcategoryid"`
	ItemPrompt               string     `json:"itemprompt"`
	ItemType                 int64      `json:"itemtype"`
	Rank                     int64      `json:"rank"`
	CommaSeparatedList       string     `json:"commaseparatedlist"`
	SelectedAnswer           string     `json:"selectedanswer"`
	Qty                      int64      `json:"qty"`
	Price                    float64    `json:"price"`
	Description              string     `json:"description"`
	Model                    string     `json:"model"`
	Location                 string     `json:"location"`
	AssessmentRegisterID     int64      `json:"assessmentregisterid"`
	AssessmentRegisterTypeID int64      `json:"assessmentregistertypeid"`
	DateCreated              *time.Time `json:"datecreated"`
	CreatedByID              string     `json:"createdbyid"`
	DateUpdated              *time.Time `json:"dateupdated"`
	UpdatedByID              string     `json:"updatedbyid"`
	IsSynced                 bool       `json:"issynced"`
	SyncVersion              int64      `json:"syncversion"`
	DeviceID                 string     `json:"deviceid"`
	SyncStatus               string     `json:"syncstatus"`
	SyncTimestamp            *time.Time `json:"synctimestamp"`
	HasPhoto                 bool       `json:"hasphoto"`
	Latitude                 *float64   `json:"latitude"`
	Longitude                *float64   `json:"longitude"`
	Notes                    string     `json:"notes"`
}

// DeletedEntity announces a server-known row removed on the device
type DeletedEntity struct {
	EntityType string    `json:"entityType"`
	ID         int64     `json:"id"`
	DeletedAt  time.Time `json:"deletedAt"`
}

// SyncRequest is the single batched payload sent to POST /sync
type SyncRequest struct {
	DeviceID              string                 `json:"deviceId"`
	UserID                string                 `json:"userId"`
	Appointments          []Appointment          `json:"appointments"`
	RiskAssessmentMasters []RiskAssessmentMaster `json:"riskAssessmentMasters"`
	RiskAssessmentItems   []RiskAssessmentItem   `json:"riskAssessmentItems"`
	DeletedEntities       []DeletedEntity        `json:"deletedEntities"`
}

// MarshalJSON keeps every array present as [] even when empty
func (r SyncRequest) MarshalJSON() ([]byte, error) {
	type alias SyncRequest
	a := alias(r)
	if a.Appointments == nil {
		a.Appointments = []Appointment{}
	}
	if a.RiskAssessmentMasters == nil {
		a.RiskAssessmentMasters = []RiskAssessmentMaster{}
	}
	if a.RiskAssessmentItems == nil {
		a.RiskAssessmentItems = []RiskAssessmentItem{}
	}
	if a.DeletedEntities == nil {
		a.DeletedEntities = []DeletedEntity{}
	}
	return json.Marshal(a)
}

// SyncResponse is the envelope returned by POST /sync
type SyncResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// SyncAck is the optional per-row acknowledgment carried in
// SyncResponse.Data.
type SyncAck struct {
	Accepted *AcceptedIDs  `json:"accepted,omitempty"`
	IDMap    IDMap         `json:"idMap,omitempty"`
	Failed   []RejectedRow `json:"failed,omitempty"`
}

// AcceptedIDs lists the submitted ids the server durably stored, keyed by
// the request array they came from.
type AcceptedIDs struct {
	Appointments          []int64         `json:"appointments"`
	RiskAssessmentMasters []int64         `json:"riskAssessmentMasters"`
	RiskAssessmentItems   []int64         `json:"riskAssessmentItems"`
	DeletedEntities       []DeletedEntity `json:"deletedEntities"`
}

// IDMap maps local-only ids from the request to the ids the server issued.
// A mapped id counts as accepted.
type IDMap struct {
	Appointments          map[int64]int64 `json:"appointments,omitempty"`
	RiskAssessmentMasters map[int64]int64 `json:"riskAssessmentMasters,omitempty"`
	RiskAssessmentItems   map[int64]int64 `json:"riskAssessmentItems,omitempty"`
}

func (m IDMap) empty() bool {
	return len(m.Appointments) == 0 && len(m.RiskAssessmentMasters) == 0 && len(m.RiskAssessmentItems) == 0
}

// RejectedRow is a submitted row the server refused
type RejectedRow struct {
	EntityType string `json:"entityType"`
	ID         int64  `json:"id"`
	Reason     string `json:"reason"`
}

// Ack decodes the per-row acknowledgment from Data. It returns nil when the
// server sent none, which callers treat as "nothing individually confirmed".
func (r *SyncResponse) Ack() (*SyncAck, error) {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return nil, nil
	}
	var ack SyncAck
	if err := json.Unmarshal(r.Data, &ack); err != nil {
		// data is free-form; anything that is not an ack object is ignored
		return nil, nil
	}
	if ack.Accepted == nil && ack.IDMap.empty() && len(ack.Failed) == 0 {
		return nil, nil
	}
	return &ack, nil
}

// UploadRequest is the body of POST /media/upload
type UploadRequest struct {
	FileName   string          `json:"fileName"`
	FileType   string          `json:"fileType"`
	EntityName string          `json:"entityName"`
	EntityID   int64           `json:"entityID"`
	Base64Data string          `json:"base64Data"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// UploadResponse is returned by POST /media/upload
type UploadResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    struct {
		BlobURL string `json:"blobUrl"`
	} `json:"data"`
}

// RemoteMedia is one entry of the per-entity media listing
type RemoteMedia struct {
	FileName   string          `json:"FileName"`
	FileType   string          `json:"FileType"`
	BlobURL    string          `json:"BlobURL"`
	UploadedAt string          `json:"UploadedAt"`
	UploadedBy string          `json:"UploadedBy"`
	IsDeleted  bool            `json:"IsDeleted"`
	Metadata   json.RawMessage `json:"Metadata,omitempty"`
}

// UploadedTime parses UploadedAt, returning nil when it is empty or not a
// recognised timestamp.
func (m RemoteMedia) UploadedTime() *time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, m.UploadedAt); err == nil {
			return &t
		}
	}
	return nil
}

package sync

import (
	"github.com/vonshlovens/fieldsync/internal/db"
	"github.com/vonshlovens/fieldsync/internal/syncclient"
)

// pendingSet is one snapshot of everything dirty in the local store
type pendingSet struct {
	appointments []*db.Appointment
	masters      []*db.AssessmentMaster
	items        []*db.AssessmentItem
	tombstones   []db.Tombstone
}

func (p *pendingSet) empty() bool {
	return len(p.appointments) == 0 && len(p.masters) == 0 && len(p.items) == 0 && len(p.tombstones) == 0
}

func (p *pendingSet) counts() Counts {
	return Counts{
		Appointments: len(p.appointments),
		Masters:      len(p.masters),
		Items:        len(p.items),
		Deletions:    len(p.tombstones),
	}
}

func buildRequest(deviceID, userID string, p *pendingSet) *syncclient.SyncRequest {
	req := &syncclient.SyncRequest{
		DeviceID:              deviceID,
		UserID:                userID,
		Appointments:          make([]syncclient.Appointment, 0, len(p.appointments)),
		RiskAssessmentMasters: make([]syncclient.RiskAssessmentMaster, 0, len(p.masters)),
		RiskAssessmentItems:   make([]syncclient.RiskAssessmentItem, 0, len(p.items)),
		DeletedEntities:       make([]syncclient.DeletedEntity, 0, len(p.tombstones)),
	}
	for _, a := range p.appointments {
		req.Appointments = append(req.Appointments, appointmentToWire(a))
	}
	for _, m := range p.masters {
		req.RiskAssessmentMasters = append(req.RiskAssessmentMasters, masterToWire(m))
	}
	for _, it := range p.items {
		req.RiskAssessmentItems = append(req.RiskAssessmentItems, itemToWire(it))
	}
	for _, ts := range p.tombstones {
		req.DeletedEntities = append(req.DeletedEntities, syncclient.DeletedEntity{
			EntityType: string(ts.EntityType),
			ID:         ts.EntityID,
			DeletedAt:  ts.DeletedAt,
		})
	}
	return req
}

func appointmentToWire(a *db.Appointment) syncclient.Appointment {
	return syncclient.Appointment{
		AppointmentID:    a.AppointmentID,
		OrderID:          a.OrderID,
		StartTime:        a.StartTime,
		EndTime:          a.EndTime,
		FollowUpDate:     a.FollowUpDate,
		ArrivalTime:      a.ArrivalTime,
		DepartureTime:    a.DepartureTime,
		InviteStatus:     a.InviteStatus,
		MeetingStatus:    a.MeetingStatus,
		Location:         a.Location,
		Comments:         a.Comments,
		Category:         a.Category,
		OutOfTown:        a.OutOfTown,
		SurveyorComments: a.SurveyorComments,
		EventID:          a.EventID,
		SurveyorEmail:    a.SurveyorEmail,
		DateModified:     a.DateModified,
	}
}

func appointmentFromWire(w syncclient.Appointment) *db.Appointment {
	return &db.Appointment{
		AppointmentID:    w.AppointmentID,
		OrderID:          w.OrderID,
		StartTime:        w.StartTime,
		EndTime:          w.EndTime,
		FollowUpDate:     w.FollowUpDate,
		ArrivalTime:      w.ArrivalTime,
		DepartureTime:    w.DepartureTime,
		InviteStatus:     w.InviteStatus,
		MeetingStatus:    w.MeetingStatus,
		Location:         w.Location,
		Comments:         w.Comments,
		Category:         w.Category,
		OutOfTown:        w.OutOfTown,
		SurveyorComments: w.SurveyorComments,
		EventID:          w.EventID,
		SurveyorEmail:    w.SurveyorEmail,
		DateModified:     w.DateModified,
	}
}

func masterToWire(m *db.AssessmentMaster) syncclient.RiskAssessmentMaster {
	return syncclient.RiskAssessmentMaster{
		RiskAssessmentID:   m.RiskAssessmentID,
		AssessmentTypeName: m.AssessmentTypeName,
		SurveyDate:         m.SurveyDate,
		ClientNumber:       m.ClientNumber,
		Comments:           m.Comments,
		TotalValue:         m.TotalValue,
		IsComplete:         m.IsComplete,
	}
}

func itemToWire(it *db.AssessmentItem) syncclient.RiskAssessmentItem {
	return syncclient.RiskAssessmentItem{
		RiskAssessmentItemID:     it.RiskAssessmentItemID,
		RiskAssessmentCategoryID: it.RiskAssessmentCategoryID,
		ItemPrompt:               it.ItemPrompt,
		ItemType:                 it.ItemType,
		Rank:                     it.Rank,
		CommaSeparatedList:       it.CommaSeparatedList,
		SelectedAnswer:           it.SelectedAnswer,
		Qty:                      it.Qty,
		Price:                    it.Price,
		Description:              it.Description,
		Model:                    it.Model,
		Location:                 it.Location,
		AssessmentRegisterID:     it.AssessmentRegisterID,
		AssessmentRegisterTypeID: it.AssessmentRegisterTypeID,
		DateCreated:              it.DateCreated,
		CreatedByID:              it.CreatedByID,
		DateUpdated:              it.DateUpdated,
		UpdatedByID:              it.UpdatedByID,
		IsSynced:                 it.IsSynced,
		SyncVersion:              it.SyncVersion,
		DeviceID:                 it.DeviceID,
		SyncStatus:               it.SyncStatus,
		SyncTimestamp:            it.SyncTimestamp,
		HasPhoto:                 it.HasPhoto,
		Latitude:                 it.Latitude,
		Longitude:                it.Longitude,
		Notes:                    it.Notes,
	}
}

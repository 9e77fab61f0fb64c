package db

import (
	"context"
	"database/sql"
	"errors"
)

const appointmentColumns = `appointment_id, order_id, start_time, end_time,
	follow_up_date, arrival_time, departure_time, invite_status,
	meeting_status, location, comments, category, out_of_town,
	surveyor_comments, event_id, surveyor_email, date_modified,
	last_synced_at, pending_sync, local_rev`

// InsertOrReplaceAppointment upserts by appointment id, overwriting every
// column. The row is marked pending unless AsClean is passed.
func (db *DB) InsertOrReplaceAppointment(ctx context.Context, a *Appointment, opts ...WriteOption) error {
	return wrap("upsert", "appointments", upsertAppointment(ctx, db.conn, a, buildWriteOptions(opts)))
}

func upsertAppointment(ctx context.Context, q queryer, a *Appointment, wo writeOptions) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(appointment_id) DO UPDATE SET
			order_id = excluded.order_id,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			follow_up_date = excluded.follow_up_date,
			arrival_time = excluded.arrival_time,
			departure_time = excluded.departure_time,
			invite_status = excluded.invite_status,
			meeting_status = excluded.meeting_status,
			location = excluded.location,
			comments = excluded.comments,
			category = excluded.category,
			out_of_town = excluded.out_of_town,
			surveyor_comments = excluded.surveyor_comments,
			event_id = excluded.event_id,
			surveyor_email = excluded.surveyor_email,
			date_modified = excluded.date_modified,
			last_synced_at = excluded.last_synced_at,
			pending_sync = excluded.pending_sync,
			local_rev = appointments.local_rev + 1
	`,
		a.AppointmentID, a.OrderID, formatTime(a.StartTime), formatTime(a.EndTime),
		formatTime(a.FollowUpDate), formatTime(a.ArrivalTime), formatTime(a.DepartureTime),
		a.InviteStatus, a.MeetingStatus, a.Location, a.Comments, a.Category,
		a.OutOfTown, a.SurveyorComments, a.EventID, a.SurveyorEmail,
		formatTime(a.DateModified), formatTime(a.LastSyncedAt), wo.pendingFlag(),
	)
	return err
}

func scanAppointment(s scanner) (*Appointment, error) {
	a := &Appointment{}
	var (
		start, end, followUp, arrival, departure string
		modified, lastSynced                     string
		pending                                  int
	)
	err := s.Scan(
		&a.AppointmentID, &a.OrderID, &start, &end, &followUp, &arrival,
		&departure, &a.InviteStatus, &a.MeetingStatus, &a.Location,
		&a.Comments, &a.Category, &a.OutOfTown, &a.SurveyorComments,
		&a.EventID, &a.SurveyorEmail, &modified, &lastSynced, &pending, &a.Rev,
	)
	if err != nil {
		return nil, err
	}
	a.PendingSync = pending == 1

	err = parseTimeFields([]timeField{
		{start, &a.StartTime},
		{end, &a.EndTime},
		{followUp, &a.FollowUpDate},
		{arrival, &a.ArrivalTime},
		{departure, &a.DepartureTime},
		{modified, &a.DateModified},
		{lastSynced, &a.LastSyncedAt},
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func getAppointment(ctx context.Context, q queryer, id int64) (*Appointment, error) {
	a, err := scanAppointment(q.QueryRowContext(ctx,
		"SELECT "+appointmentColumns+" FROM appointments WHERE appointment_id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (db *DB) queryAppointments(ctx context.Context, where string, args ...any) ([]*Appointment, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+appointmentColumns+" FROM appointments "+where+" ORDER BY appointment_id", args...,
	)
	if err != nil {
		return nil, wrap("query", "appointments", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, wrap("scan", "appointments", err)
		}
		out = append(out, a)
	}
	return out, wrap("query", "appointments", rows.Err())
}

// GetAppointmentByID returns the appointment, or nil if it does not exist
func (db *DB) GetAppointmentByID(ctx context.Context, id int64) (*Appointment, error) {
	a, err := getAppointment(ctx, db.conn, id)
	return a, wrap("get", "appointments", err)
}

// GetAllAppointments returns every appointment
func (db *DB) GetAllAppointments(ctx context.Context) ([]*Appointment, error) {
	return db.queryAppointments(ctx, "")
}

// GetPendingSyncAppointments returns appointments with unsynced local changes
func (db *DB) GetPendingSyncAppointments(ctx context.Context) ([]*Appointment, error) {
	return db.queryAppointments(ctx, "WHERE pending_sync = 1")
}

// GetAppointmentsBySurveyor returns the appointments assigned to email
func (db *DB) GetAppointmentsBySurveyor(ctx context.Context, email string) ([]*Appointment, error) {
	return db.queryAppointments(ctx, "WHERE surveyor_email = ?", email)
}

// UpdateAppointment applies fn to the stored appointment and writes the
// merged row back, marking it pending. Returns ErrRecordNotFound if absent.
func (db *DB) UpdateAppointment(ctx context.Context, id int64, fn func(*Appointment) error) (*Appointment, error) {
	a, err := readMergeWrite(ctx, db, id,
		getAppointment,
		func(a *Appointment) error {
			if err := fn(a); err != nil {
				return err
			}
			a.AppointmentID = id
			a.DateModified = nowPtr()
			return nil
		},
		func(ctx context.Context, q queryer, a *Appointment) error {
			return upsertAppointment(ctx, q, a, writeOptions{})
		},
	)
	return a, wrap("update", "appointments", err)
}

// DeleteAppointment hard-deletes the appointment
func (db *DB) DeleteAppointment(ctx context.Context, id int64) error {
	return wrap("delete", "appointments", db.hardDelete(ctx, KindAppointment, id))
}

// MarkAppointmentsSynced clears the pending flag and stamps last_synced_at
func (db *DB) MarkAppointmentsSynced(ctx context.Context, ids ...int64) error {
	_, err := db.MarkSyncedAt(ctx, KindAppointment, marksFor(ids))
	return err
}

package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vonshlovens/fieldsync/internal/db"
)

// PullAppointments refreshes the local appointment list from the server.
// Rows with unsynced local edits are left alone so a pull never discards
// work that has not been pushed yet.
func (e *Engine) PullAppointments(ctx context.Context) (PullResult, error) {
	var res PullResult

	status := e.checker.Check(ctx)
	if !status.Online() {
		return res, fmt.Errorf("failed to pull appointments: %w", status.Err())
	}

	remote, err := e.client.ListAppointments(ctx, e.session.UserID())
	if err != nil {
		return res, fmt.Errorf("failed to pull appointments: %w", err)
	}
	res.Fetched = len(remote)

	for _, w := range remote {
		local, err := e.db.GetAppointmentByID(ctx, w.AppointmentID)
		if err != nil {
			return res, err
		}
		if local != nil && local.PendingSync {
			slog.Debug("keeping locally edited appointment", "id", w.AppointmentID)
			res.SkippedDirty++
			continue
		}
		if err := e.db.InsertOrReplaceAppointment(ctx, appointmentFromWire(w), db.AsClean()); err != nil {
			return res, err
		}
		res.Stored++
	}

	e.session.RecordPull(time.Now().UTC())
	if err := e.session.Save(); err != nil {
		slog.Warn("failed to save session", "error", err)
	}
	slog.Info("pulled appointments", "fetched", res.Fetched, "stored", res.Stored, "skipped_dirty", res.SkippedDirty)
	return res, nil
}

// Package sync reconciles locally dirty records with the server in one
// batched call and reports the outcome as a Result.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vonshlovens/fieldsync/internal/config"
	"github.com/vonshlovens/fieldsync/internal/connectivity"
	"github.com/vonshlovens/fieldsync/internal/db"
	"github.com/vonshlovens/fieldsync/internal/media"
	"github.com/vonshlovens/fieldsync/internal/session"
	"github.com/vonshlovens/fieldsync/internal/syncclient"
)

const (
	msgNoPending = "No pending changes"
	msgOffline   = "Currently offline, showing cached data"
)

// Client is the part of the sync API the engine calls
type Client interface {
	Sync(ctx context.Context, req *syncclient.SyncRequest) (*syncclient.SyncResponse, error)
	ListAppointments(ctx context.Context, surveyorEmail string) ([]syncclient.Appointment, error)
}

// Engine handles data synchronization for one session
type Engine struct {
	db       *db.DB
	client   Client
	checker  connectivity.Checker
	session  *session.Session
	config   config.SyncConfig
	media    *media.Manager
	progress ProgressFunc
	flight   singleflight.Group
}

// Option customizes an Engine
type Option func(*Engine)

// WithMedia enables the combined media and data flow of SyncAll
func WithMedia(m *media.Manager) Option {
	return func(e *Engine) {
		e.media = m
	}
}

// WithProgress reports every phase transition to fn
func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) {
		e.progress = fn
	}
}

// NewEngine creates a new sync engine
func NewEngine(database *db.DB, client Client, checker connectivity.Checker, sess *session.Session, cfg *config.SyncConfig, opts ...Option) *Engine {
	e := &Engine{
		db:      database,
		client:  client,
		checker: checker,
		session: sess,
		config:  *cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SyncPendingChanges submits every pending appointment, master and item in
// one request and clears the rows the server confirms. Overlapping calls
// for the same session share a single run.
func (e *Engine) SyncPendingChanges(ctx context.Context) Result {
	v, _, shared := e.flight.Do("data/"+e.session.Key(), func() (any, error) {
		return e.syncOnce(ctx), nil
	})
	res := v.(Result)
	res.Shared = shared
	return res
}

func (e *Engine) report(p Phase) {
	slog.Debug("sync phase", "phase", p)
	if e.progress != nil {
		e.progress(p)
	}
}

func (e *Engine) syncOnce(ctx context.Context) (res Result) {
	start := time.Now()
	defer func() {
		e.record(res)
		slog.Info("sync finished",
			"success", res.Success,
			"offline", res.Offline,
			"submitted", res.Submitted.Total(),
			"confirmed", res.Confirmed.Total(),
			"unconfirmed", res.Unconfirmed,
			"duration_ms", time.Since(start).Milliseconds())
	}()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("sync panicked", "panic", r)
			res = failed(fmt.Sprintf("sync aborted: %v", r))
		}
	}()

	e.report(PhaseCheckingConnectivity)
	status := e.checker.Check(ctx)
	if !status.Online() {
		e.report(PhaseFailed)
		return Result{
			Offline: true,
			Message: msgOffline,
			Error:   status.Err().Error(),
			Phase:   PhaseFailed,
		}
	}

	e.report(PhaseCollecting)
	pending, err := e.collect(ctx)
	if err != nil {
		slog.Error("failed to collect pending changes", "error", err)
		e.report(PhaseFailed)
		return failed(err.Error())
	}
	if pending.empty() {
		e.report(PhaseSucceeded)
		return Result{Success: true, Message: msgNoPending, Phase: PhaseSucceeded}
	}

	e.report(PhaseBuildingPayload)
	req := buildRequest(e.session.DeviceID(), e.session.UserID(), pending)
	submitted := pending.counts()

	e.report(PhaseCallingServer)
	resp, err := e.client.Sync(ctx, req)
	if err != nil {
		slog.Error("sync request failed", "error", err)
		e.report(PhaseFailed)
		r := failed(serverMessage(err))
		r.Submitted = submitted
		r.Unconfirmed = submitted.Total()
		return r
	}
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "Sync failed"
		}
		slog.Warn("server rejected sync", "message", msg)
		e.report(PhaseFailed)
		r := failed(msg)
		r.Submitted = submitted
		r.Unconfirmed = submitted.Total()
		return r
	}

	e.report(PhaseMarkingSynced)
	res = e.confirm(ctx, pending, resp)
	res.Submitted = submitted
	if res.Success {
		e.report(PhaseSucceeded)
	} else {
		e.report(PhaseFailed)
	}
	return res
}

func failed(msg string) Result {
	return Result{Message: msg, Error: msg, Phase: PhaseFailed}
}

// serverMessage surfaces the server's own text when there is one
func serverMessage(err error) string {
	var se *syncclient.ServerError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return err.Error()
}

func (e *Engine) record(res Result) {
	e.session.RecordSync(session.SyncRecord{
		At:      time.Now().UTC(),
		Success: res.Success,
		Offline: res.Offline,
		Message: res.Message,
	})
	if err := e.session.Save(); err != nil {
		slog.Warn("failed to save session", "error", err)
	}
}

// collect reads the pending sets concurrently
func (e *Engine) collect(ctx context.Context) (*pendingSet, error) {
	p := &pendingSet{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		p.appointments, err = e.db.GetPendingSyncAppointments(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		p.masters, err = e.db.GetPendingSyncAssessmentMasters(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		p.items, err = e.db.GetPendingSyncAssessmentItems(gctx)
		return err
	})
	if e.config.PropagateDeletes {
		g.Go(func() error {
			var err error
			p.tombstones, err = e.db.GetTombstones(gctx)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to read pending changes: %w", err)
	}
	return p, nil
}

// submittedRow is one row as it was sent
type submittedRow struct {
	id  int64
	rev int64
}

// confirm clears the rows the server acknowledged. Without an ack block the
// outcome depends on trust_overall_success.
func (e *Engine) confirm(ctx context.Context, p *pendingSet, resp *syncclient.SyncResponse) Result {
	ack, _ := resp.Ack()
	if ack == nil && e.config.TrustOverallSuccess {
		ack = trustAll(p)
	}
	if ack == nil {
		ack = &syncclient.SyncAck{}
	}
	accepted := ack.Accepted
	if accepted == nil {
		accepted = &syncclient.AcceptedIDs{}
	}

	var (
		res     Result
		markErr error
	)
	res.Rejected = ack.Failed

	type batch struct {
		kind     db.Kind
		rows     []submittedRow
		accepted []int64
		idMap    map[int64]int64
		count    *int
	}
	batches := []batch{
		{db.KindAppointment, appointmentRows(p.appointments), accepted.Appointments, ack.IDMap.Appointments, &res.Confirmed.Appointments},
		{db.KindAssessmentMaster, masterRows(p.masters), accepted.RiskAssessmentMasters, ack.IDMap.RiskAssessmentMasters, &res.Confirmed.Masters},
		{db.KindAssessmentItem, itemRows(p.items), accepted.RiskAssessmentItems, ack.IDMap.RiskAssessmentItems, &res.Confirmed.Items},
	}

	for _, b := range batches {
		ok := make(map[int64]bool, len(b.accepted))
		for _, id := range b.accepted {
			ok[id] = true
		}

		var marks []db.SyncMark
		for _, row := range b.rows {
			id := row.id
			if serverID, mapped := b.idMap[row.id]; mapped && db.IsLocalID(row.id) {
				if err := e.db.RemapID(ctx, b.kind, row.id, serverID); err != nil {
					slog.Error("failed to remap id", "kind", b.kind, "local_id", row.id, "server_id", serverID, "error", err)
					markErr = multierr.Append(markErr, err)
					res.Unconfirmed++
					continue
				}
				slog.Debug("remapped local id", "kind", b.kind, "local_id", row.id, "server_id", serverID)
				res.Remapped++
				id = serverID
			} else if !ok[row.id] {
				res.Unconfirmed++
				continue
			}
			marks = append(marks, db.SyncMark{ID: id, Rev: row.rev})
		}

		if _, err := e.db.MarkSyncedAt(ctx, b.kind, marks); err != nil {
			slog.Error("failed to mark rows synced", "kind", b.kind, "error", err)
			markErr = multierr.Append(markErr, err)
		}
		*b.count = len(marks)
	}

	res.Unconfirmed += e.confirmDeletions(ctx, p.tombstones, accepted.DeletedEntities, &res, &markErr)

	switch {
	case markErr != nil:
		res.Error = markErr.Error()
		res.Message = "Server accepted the changes but some could not be marked synced"
		res.Phase = PhaseFailed
	case res.Unconfirmed > 0 || len(res.Rejected) > 0:
		res.Message = fmt.Sprintf("%d of %d changes confirmed", res.Confirmed.Total(), p.counts().Total())
		if len(res.Rejected) > 0 {
			res.Error = fmt.Sprintf("%d changes rejected by server", len(res.Rejected))
		}
		res.Phase = PhaseFailed
	default:
		res.Success = true
		res.Message = fmt.Sprintf("Synced %d changes", res.Confirmed.Total())
		res.Phase = PhaseSucceeded
	}
	return res
}

func (e *Engine) confirmDeletions(ctx context.Context, sent []db.Tombstone, acked []syncclient.DeletedEntity, res *Result, markErr *error) int {
	if len(sent) == 0 {
		return 0
	}
	type key struct {
		kind string
		id   int64
	}
	ok := make(map[key]bool, len(acked))
	for _, d := range acked {
		ok[key{d.EntityType, d.ID}] = true
	}

	var cleared []int64
	unconfirmed := 0
	for _, ts := range sent {
		if ok[key{string(ts.EntityType), ts.EntityID}] {
			cleared = append(cleared, ts.ID)
		} else {
			unconfirmed++
		}
	}
	if err := e.db.ClearTombstones(ctx, cleared...); err != nil {
		slog.Error("failed to clear tombstones", "error", err)
		*markErr = multierr.Append(*markErr, err)
	}
	res.Confirmed.Deletions = len(cleared)
	return unconfirmed
}

// trustAll builds an ack confirming every submitted row, for servers that
// only report overall success.
func trustAll(p *pendingSet) *syncclient.SyncAck {
	acc := &syncclient.AcceptedIDs{}
	for _, a := range p.appointments {
		acc.Appointments = append(acc.Appointments, a.AppointmentID)
	}
	for _, m := range p.masters {
		acc.RiskAssessmentMasters = append(acc.RiskAssessmentMasters, m.RiskAssessmentID)
	}
	for _, it := range p.items {
		acc.RiskAssessmentItems = append(acc.RiskAssessmentItems, it.RiskAssessmentItemID)
	}
	for _, ts := range p.tombstones {
		acc.DeletedEntities = append(acc.DeletedEntities, syncclient.DeletedEntity{EntityType: string(ts.EntityType), ID: ts.EntityID})
	}
	return &syncclient.SyncAck{Accepted: acc}
}

func appointmentRows(rows []*db.Appointment) []submittedRow {
	out := make([]submittedRow, len(rows))
	for i, r := range rows {
		out[i] = submittedRow{r.AppointmentID, r.Rev}
	}
	return out
}

func masterRows(rows []*db.AssessmentMaster) []submittedRow {
	out := make([]submittedRow, len(rows))
	for i, r := range rows {
		out[i] = submittedRow{r.RiskAssessmentID, r.Rev}
	}
	return out
}

func itemRows(rows []*db.AssessmentItem) []submittedRow {
	out := make([]submittedRow, len(rows))
	for i, r := range rows {
		out[i] = submittedRow{r.RiskAssessmentItemID, r.Rev}
	}
	return out
}

// PendingCount returns what a sync would submit, plus media awaiting upload
func (e *Engine) PendingCount(ctx context.Context) (PendingCounts, error) {
	var pc PendingCounts
	counts := []struct {
		kind db.Kind
		dst  *int
	}{
		{db.KindAppointment, &pc.Appointments},
		{db.KindAssessmentMaster, &pc.Masters},
		{db.KindAssessmentItem, &pc.Items},
		{db.KindMediaFile, &pc.Media},
	}
	for _, c := range counts {
		n, err := e.db.CountPending(ctx, c.kind)
		if err != nil {
			return PendingCounts{}, err
		}
		*c.dst = n
	}

	if e.config.PropagateDeletes {
		stones, err := e.db.GetTombstones(ctx)
		if err != nil {
			return PendingCounts{}, err
		}
		pc.Deletions = len(stones)
	}
	return pc, nil
}

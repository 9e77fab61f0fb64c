package db

import (
	"context"
	"database/sql"
	"errors"
)

const masterColumns = `riskassessmentid, assessmenttypename, surveydate,
	clientnumber, comments, totalvalue, iscomplete, pending_sync, local_rev`

// InsertOrReplaceAssessmentMaster upserts by riskassessmentid
func (db *DB) InsertOrReplaceAssessmentMaster(ctx context.Context, m *AssessmentMaster, opts ...WriteOption) error {
	return wrap("upsert", "assessment_masters", upsertMaster(ctx, db.conn, m, buildWriteOptions(opts)))
}

func upsertMaster(ctx context.Context, q queryer, m *AssessmentMaster, wo writeOptions) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO assessment_masters (`+masterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(riskassessmentid) DO UPDATE SET
			assessmenttypename = excluded.assessmenttypename,
			surveydate = excluded.surveydate,
			clientnumber = excluded.clientnumber,
			comments = excluded.comments,
			totalvalue = excluded.totalvalue,
			iscomplete = excluded.iscomplete,
			pending_sync = excluded.pending_sync,
			local_rev = assessment_masters.local_rev + 1
	`,
		m.RiskAssessmentID, m.AssessmentTypeName, formatTime(m.SurveyDate),
		m.ClientNumber, m.Comments, m.TotalValue, boolToInt(m.IsComplete),
		wo.pendingFlag(),
	)
	return err
}

func scanMaster(s scanner) (*AssessmentMaster, error) {
	m := &AssessmentMaster{}
	var (
		surveyDate        string
		complete, pending int
	)
	err := s.Scan(
		&m.RiskAssessmentID, &m.AssessmentTypeName, &surveyDate,
		&m.ClientNumber, &m.Comments, &m.TotalValue, &complete, &pending, &m.Rev,
	)
	if err != nil {
		return nil, err
	}
	m.IsComplete = complete == 1
	m.PendingSync = pending == 1
	if m.SurveyDate, err = parseTime(surveyDate); err != nil {
		return nil, err
	}
	return m, nil
}

func getMaster(ctx context.Context, q queryer, id int64) (*AssessmentMaster, error) {
	m, err := scanMaster(q.QueryRowContext(ctx,
		"SELECT "+masterColumns+" FROM assessment_masters WHERE riskassessmentid = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (db *DB) queryMasters(ctx context.Context, where string) ([]*AssessmentMaster, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+masterColumns+" FROM assessment_masters "+where+" ORDER BY riskassessmentid",
	)
	if err != nil {
		return nil, wrap("query", "assessment_masters", err)
	}
	defer rows.Close()

	var out []*AssessmentMaster
	for rows.Next() {
		m, err := scanMaster(rows)
		if err != nil {
			return nil, wrap("scan", "assessment_masters", err)
		}
		out = append(out, m)
	}
	return out, wrap("query", "assessment_masters", rows.Err())
}

// GetAssessmentMasterByID returns the master, or nil if it does not exist
func (db *DB) GetAssessmentMasterByID(ctx context.Context, id int64) (*AssessmentMaster, error) {
	m, err := getMaster(ctx, db.conn, id)
	return m, wrap("get", "assessment_masters", err)
}

func (db *DB) GetAllAssessmentMasters(ctx context.Context) ([]*AssessmentMaster, error) {
	return db.queryMasters(ctx, "")
}

func (db *DB) GetPendingSyncAssessmentMasters(ctx context.Context) ([]*AssessmentMaster, error) {
	return db.queryMasters(ctx, "WHERE pending_sync = 1")
}

// UpdateAssessmentMaster is the read-merge-write path for masters
func (db *DB) UpdateAssessmentMaster(ctx context.Context, id int64, fn func(*AssessmentMaster) error) (*AssessmentMaster, error) {
	m, err := readMergeWrite(ctx, db, id,
		getMaster,
		func(m *AssessmentMaster) error {
			if err := fn(m); err != nil {
				return err
			}
			m.RiskAssessmentID = id
			return nil
		},
		func(ctx context.Context, q queryer, m *AssessmentMaster) error {
			return upsertMaster(ctx, q, m, writeOptions{})
		},
	)
	return m, wrap("update", "assessment_masters", err)
}

func (db *DB) DeleteAssessmentMaster(ctx context.Context, id int64) error {
	return wrap("delete", "assessment_masters", db.hardDelete(ctx, KindAssessmentMaster, id))
}

func (db *DB) MarkAssessmentMastersSynced(ctx context.Context, ids ...int64) error {
	_, err := db.MarkSyncedAt(ctx, KindAssessmentMaster, marksFor(ids))
	return err
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const itemColumns = `riskassessmentitemid, riskassessmentcategoryid, itemprompt,
	itemtype, rank, commaseparatedlist, selectedanswer, qty, price,
	description, model, location, assessmentregisterid,
	assessmentregistertypeid, datecreated, createdbyid, dateupdated,
	updatedbyid, issynced, syncversion, deviceid, syncstatus, synctimestamp,
	hasphoto, latitude, longitude, notes, pending_sync, local_rev`

// InsertOrReplaceAssessmentItem upserts by riskassessmentitemid
func (db *DB) InsertOrReplaceAssessmentItem(ctx context.Context, it *AssessmentItem, opts ...WriteOption) error {
	return wrap("upsert", "assessment_items", upsertItem(ctx, db.conn, it, buildWriteOptions(opts)))
}

func upsertItem(ctx context.Context, q queryer, it *AssessmentItem, wo writeOptions) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO assessment_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(riskassessmentitemid) DO UPDATE SET
			riskassessmentcategoryid = excluded.riskassessmentcategoryid,
			itemprompt = excluded.itemprompt,
			itemtype = excluded.itemtype,
			rank = excluded.rank,
			commaseparatedlist = excluded.commaseparatedlist,
			selectedanswer = excluded.selectedanswer,
			qty = excluded.qty,
			price = excluded.price,
			description = excluded.description,
			model = excluded.model,
			location = excluded.location,
			assessmentregisterid = excluded.assessmentregisterid,
			assessmentregistertypeid = excluded.assessmentregistertypeid,
			datecreated = excluded.datecreated,
			createdbyid = excluded.createdbyid,
			dateupdated = excluded.dateupdated,
			updatedbyid = excluded.updatedbyid,
			issynced = excluded.issynced,
			syncversion = excluded.syncversion,
			deviceid = excluded.deviceid,
			syncstatus = excluded.syncstatus,
			synctimestamp = excluded.synctimestamp,
			hasphoto = excluded.hasphoto,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			notes = excluded.notes,
			pending_sync = excluded.pending_sync,
			local_rev = assessment_items.local_rev + 1
	`,
		it.RiskAssessmentItemID, it.RiskAssessmentCategoryID, it.ItemPrompt,
		it.ItemType, it.Rank, it.CommaSeparatedList, it.SelectedAnswer, it.Qty,
		it.Price, it.Description, it.Model, it.Location, it.AssessmentRegisterID,
		it.AssessmentRegisterTypeID, formatTime(it.DateCreated), it.CreatedByID,
		formatTime(it.DateUpdated), it.UpdatedByID, boolToInt(it.IsSynced),
		it.SyncVersion, it.DeviceID, it.SyncStatus, formatTime(it.SyncTimestamp),
		boolToInt(it.HasPhoto), nullFloat(it.Latitude), nullFloat(it.Longitude),
		it.Notes, wo.pendingFlag(),
	)
	return err
}

func scanItem(s scanner) (*AssessmentItem, error) {
	it := &AssessmentItem{}
	var (
		created, updated, syncedAt string
		synced, photo, pending     int
		lat, lon                   sql.NullFloat64
	)
	err := s.Scan(
		&it.RiskAssessmentItemID, &it.RiskAssessmentCategoryID, &it.ItemPrompt,
		&it.ItemType, &it.Rank, &it.CommaSeparatedList, &it.SelectedAnswer,
		&it.Qty, &it.Price, &it.Description, &it.Model, &it.Location,
		&it.AssessmentRegisterID, &it.AssessmentRegisterTypeID, &created,
		&it.CreatedByID, &updated, &it.UpdatedByID, &synced, &it.SyncVersion,
		&it.DeviceID, &it.SyncStatus, &syncedAt, &photo, &lat, &lon, &it.Notes,
		&pending, &it.Rev,
	)
	if err != nil {
		return nil, err
	}
	it.IsSynced = synced == 1
	it.HasPhoto = photo == 1
	it.PendingSync = pending == 1
	it.Latitude = floatPtr(lat)
	it.Longitude = floatPtr(lon)

	err = parseTimeFields([]timeField{
		{created, &it.DateCreated},
		{updated, &it.DateUpdated},
		{syncedAt, &it.SyncTimestamp},
	})
	if err != nil {
		return nil, err
	}
	return it, nil
}

func getItem(ctx context.Context, q queryer, id int64) (*AssessmentItem, error) {
	it, err := scanItem(q.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM assessment_items WHERE riskassessmentitemid = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return it, err
}

func (db *DB) queryItems(ctx context.Context, where string, args ...any) ([]*AssessmentItem, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT "+itemColumns+" FROM assessment_items "+where+" ORDER BY rank, riskassessmentitemid", args...,
	)
	if err != nil {
		return nil, wrap("query", "assessment_items", err)
	}
	defer rows.Close()

	var out []*AssessmentItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, wrap("scan", "assessment_items", err)
		}
		out = append(out, it)
	}
	return out, wrap("query", "assessment_items", rows.Err())
}

// GetAssessmentItemByID returns the item, or nil if it does not exist
func (db *DB) GetAssessmentItemByID(ctx context.Context, id int64) (*AssessmentItem, error) {
	it, err := getItem(ctx, db.conn, id)
	return it, wrap("get", "assessment_items", err)
}

// GetAllAssessmentItems returns every item ordered by display rank
func (db *DB) GetAllAssessmentItems(ctx context.Context) ([]*AssessmentItem, error) {
	return db.queryItems(ctx, "")
}

// GetAssessmentItemsByCategory returns the items captured under one category
func (db *DB) GetAssessmentItemsByCategory(ctx context.Context, categoryID int64) ([]*AssessmentItem, error) {
	return db.queryItems(ctx, "WHERE riskassessmentcategoryid = ?", categoryID)
}

// GetPendingSyncAssessmentItems returns items with unsynced local changes
func (db *DB) GetPendingSyncAssessmentItems(ctx context.Context) ([]*AssessmentItem, error) {
	return db.queryItems(ctx, "WHERE pending_sync = 1")
}

// UpdateAssessmentItem applies fn to the stored item, stamps dateupdated and
// writes the merged row back as pending. Fields fn leaves alone keep their
// stored values. Returns ErrRecordNotFound if the item does not exist.
func (db *DB) UpdateAssessmentItem(ctx context.Context, id int64, fn func(*AssessmentItem) error) (*AssessmentItem, error) {
	it, err := readMergeWrite(ctx, db, id,
		getItem,
		func(it *AssessmentItem) error {
			if err := fn(it); err != nil {
				return err
			}
			it.RiskAssessmentItemID = id
			it.DateUpdated = nowPtr()
			return nil
		},
		func(ctx context.Context, q queryer, it *AssessmentItem) error {
			return upsertItem(ctx, q, it, writeOptions{})
		},
	)
	return it, wrap("update", "assessment_items", err)
}

// DeleteAssessmentItem hard-deletes the item
func (db *DB) DeleteAssessmentItem(ctx context.Context, id int64) error {
	return wrap("delete", "assessment_items", db.hardDelete(ctx, KindAssessmentItem, id))
}

func (db *DB) MarkAssessmentItemsSynced(ctx context.Context, ids ...int64) error {
	_, err := db.MarkSyncedAt(ctx, KindAssessmentItem, marksFor(ids))
	return err
}

// ImportAssessmentItems writes predefined items one statement at a time.
// There is no surrounding transaction: on failure the rows before the
// failing one stay committed, and re-running the import is safe because
// each write is an upsert. Returns the number of rows written.
func (db *DB) ImportAssessmentItems(ctx context.Context, items []*AssessmentItem, opts ...WriteOption) (int, error) {
	wo := buildWriteOptions(opts)
	for i, it := range items {
		if err := upsertItem(ctx, db.conn, it, wo); err != nil {
			return i, wrap("import", "assessment_items",
				fmt.Errorf("item %d (id %d): %w", i, it.RiskAssessmentItemID, err))
		}
	}
	return len(items), nil
}

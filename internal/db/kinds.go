package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Kind names one synced record type. The string value is also the entity
// name used in media owner references and tombstones.
type Kind string

const (
	KindAppointment      Kind = "Appointment"
	KindAssessmentMaster Kind = "AssessmentMaster"
	KindAssessmentItem   Kind = "AssessmentItem"
	KindMediaFile        Kind = "MediaFile"
)

type tableInfo struct {
	name string
	pk   string
	// onSynced holds extra SET assignments applied when a row is marked
	// synced; a single placeholder receives the sync time.
	onSynced string
}

var tables = map[Kind]tableInfo{
	KindAppointment:      {name: "appointments", pk: "appointment_id", onSynced: "last_synced_at = ?"},
	KindAssessmentMaster: {name: "assessment_masters", pk: "riskassessmentid"},
	KindAssessmentItem:   {name: "assessment_items", pk: "riskassessmentitemid", onSynced: "issynced = 1, synctimestamp = ?"},
	KindMediaFile:        {name: "media_files", pk: "media_id"},
}

var kindOrder = []Kind{KindAppointment, KindAssessmentMaster, KindAssessmentItem, KindMediaFile}

// ParseKind validates an entity name
func ParseKind(name string) (Kind, error) {
	k := Kind(name)
	if _, ok := tables[k]; !ok {
		return "", fmt.Errorf("unknown entity kind %q", name)
	}
	return k, nil
}

func (k Kind) table() (tableInfo, error) {
	t, ok := tables[k]
	if !ok {
		return tableInfo{}, fmt.Errorf("unknown entity kind %q", string(k))
	}
	return t, nil
}

// IsLocalID reports whether id was allocated on this device and has not yet
// been replaced by a server-assigned id.
func IsLocalID(id int64) bool {
	return id < 0
}

// AllocateLocalID returns a fresh negative id, unique across all kinds
func (db *DB) AllocateLocalID(ctx context.Context) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		"INSERT INTO local_id_seq (allocated_at) VALUES (?)",
		formatTime(nowPtr()),
	)
	if err != nil {
		return 0, wrap("allocate id", "local_id_seq", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, wrap("allocate id", "local_id_seq", err)
	}
	return -seq, nil
}

// MarkSyncedAt clears pending_sync for the given rows, one statement per
// row. A row whose local_rev moved past the submitted revision stays
// pending. Already clean or missing rows are skipped without error.
// Returns the number of rows actually cleared.
func (db *DB) MarkSyncedAt(ctx context.Context, kind Kind, marks []SyncMark) (int, error) {
	t, err := kind.table()
	if err != nil {
		return 0, err
	}

	set := "pending_sync = 0"
	if t.onSynced != "" {
		set += ", " + t.onSynced
	}
	syncedAt := formatTime(nowPtr())

	cleared := 0
	for _, m := range marks {
		var args []any
		if strings.Contains(t.onSynced, "?") {
			args = append(args, syncedAt)
		}
		query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ? AND pending_sync = 1", t.name, set, t.pk)
		args = append(args, m.ID)
		if m.Rev > 0 {
			query += " AND local_rev = ?"
			args = append(args, m.Rev)
		}

		res, err := db.conn.ExecContext(ctx, query, args...)
		if err != nil {
			return cleared, wrap("mark synced", t.name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			cleared++
		}
	}
	return cleared, nil
}

// CountPending returns how many rows of kind have pending_sync = 1
func (db *DB) CountPending(ctx context.Context, kind Kind) (int, error) {
	t, err := kind.table()
	if err != nil {
		return 0, err
	}
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE pending_sync = 1", t.name)
	if err := db.conn.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, wrap("count pending", t.name, err)
	}
	return n, nil
}

// RemapID replaces a local-only primary key with the server-assigned one.
//
// Runs in one transaction: an existing row already holding serverID is
// replaced rather than duplicated, and media owner references follow the
// new id. A missing local row is not an error.
func (db *DB) RemapID(ctx context.Context, kind Kind, localID, serverID int64) error {
	if kind == KindMediaFile {
		return fmt.Errorf("media files keep their local ids")
	}
	t, err := kind.table()
	if err != nil {
		return err
	}
	if !IsLocalID(localID) {
		return fmt.Errorf("id %d is not a local id", localID)
	}
	if serverID <= 0 {
		return fmt.Errorf("invalid server id %d", serverID)
	}

	err = db.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", t.name, t.pk), localID,
		).Scan(&exists)
		if err != nil {
			return err
		}
		if exists == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s = ?", t.name, t.pk), serverID,
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", t.name, t.pk, t.pk), serverID, localID,
		); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE media_files SET entity_id = ? WHERE entity_name = ? AND entity_id = ?",
			serverID, string(kind), localID,
		)
		return err
	})
	return wrap("remap id", t.name, err)
}

// recordTombstone notes the deletion of a server-known row
func recordTombstone(ctx context.Context, q queryer, kind Kind, id int64) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO tombstones (entity_type, entity_id, deleted_at)
		VALUES (?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			deleted_at = excluded.deleted_at
	`, string(kind), id, formatTime(nowPtr()))
	return err
}

// GetTombstones returns every recorded deletion, oldest first
func (db *DB) GetTombstones(ctx context.Context) ([]Tombstone, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT tombstone_id, entity_type, entity_id, deleted_at
		FROM tombstones ORDER BY tombstone_id
	`)
	if err != nil {
		return nil, wrap("list", "tombstones", err)
	}
	defer rows.Close()

	var out []Tombstone
	for rows.Next() {
		var (
			ts        Tombstone
			kind      string
			deletedAt string
		)
		if err := rows.Scan(&ts.ID, &kind, &ts.EntityID, &deletedAt); err != nil {
			return nil, wrap("list", "tombstones", err)
		}
		ts.EntityType = Kind(kind)
		parsed, err := time.Parse(timeLayout, deletedAt)
		if err != nil {
			return nil, wrap("list", "tombstones", err)
		}
		ts.DeletedAt = parsed
		out = append(out, ts)
	}
	return out, wrap("list", "tombstones", rows.Err())
}

// ClearTombstones removes tombstones once the server has acknowledged them
func (db *DB) ClearTombstones(ctx context.Context, ids ...int64) error {
	for _, id := range ids {
		if _, err := db.conn.ExecContext(ctx, "DELETE FROM tombstones WHERE tombstone_id = ?", id); err != nil {
			return wrap("clear", "tombstones", err)
		}
	}
	return nil
}

func marksFor(ids []int64) []SyncMark {
	marks := make([]SyncMark, len(ids))
	for i, id := range ids {
		marks[i] = SyncMark{ID: id}
	}
	return marks
}

// hardDelete removes a row and, when the server already knows it, leaves a
// tombstone so the deletion can be propagated.
func (db *DB) hardDelete(ctx context.Context, kind Kind, id int64) error {
	t, err := kind.table()
	if err != nil {
		return err
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s = ?", t.name, t.pk), id,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 || IsLocalID(id) {
			return nil
		}
		return recordTombstone(ctx, tx, kind, id)
	})
}

// readMergeWrite loads a row inside a transaction, lets merge edit it and
// writes the whole row back. The stored row is re-read so the returned value
// carries the new revision.
func readMergeWrite[T any](
	ctx context.Context,
	db *DB,
	id int64,
	get func(context.Context, queryer, int64) (*T, error),
	merge func(*T) error,
	put func(context.Context, queryer, *T) error,
) (*T, error) {
	var out *T
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := get(ctx, tx, id)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrRecordNotFound
		}
		if err := merge(cur); err != nil {
			return err
		}
		if err := put(ctx, tx, cur); err != nil {
			return err
		}
		out, err = get(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

package db

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/vonshlovens/fieldsync/internal/config"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	cfg := &config.StorageConfig{DatabasePath: filepath.Join(t.TempDir(), "local.db")}

	db, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}
	return db
}

func TestOpen_PathWithURIMetacharacters(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "site?a=1#b 50%", "local.db")

	if got := dsn(path); strings.Count(got, "?") != 1 || strings.Contains(got, "#") {
		t.Errorf("dsn(%q) = %q, want path metacharacters escaped", path, got)
	}

	db, err := Open(ctx, &config.StorageConfig{DatabasePath: path})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()
	if err := db.RunMigrations(ctx); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database not created at %s: %v", path, err)
	}
}

func sampleItem(id int64) *AssessmentItem {
	lat := -33.8688
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	return &AssessmentItem{
		RiskAssessmentItemID:     id,
		RiskAssessmentCategoryID: 7,
		ItemPrompt:               "Television",
		ItemType:                 2,
		Rank:                     1,
		Qty:                      1,
		Price:                    500,
		Description:              "65 inch OLED",
		Model:                    "LG C3",
		Location:                 "Lounge",
		DateCreated:              &created,
		CreatedByID:              "surveyor@example.com",
		HasPhoto:                 true,
		Latitude:                 &lat,
		Notes:                    "wall mounted",
	}
}

var ignoreRev = cmpopts.IgnoreFields(AssessmentItem{}, "Rev")

func pendingItemIDs(t *testing.T, db *DB) []int64 {
	t.Helper()
	items, err := db.GetPendingSyncAssessmentItems(context.Background())
	if err != nil {
		t.Fatalf("GetPendingSyncAssessmentItems failed: %v", err)
	}
	var ids []int64
	for _, it := range items {
		ids = append(ids, it.RiskAssessmentItemID)
	}
	return ids
}

func TestInsertOrReplace_Idempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	item := sampleItem(1700000000000)
	for i := 0; i < 2; i++ {
		if err := db.InsertOrReplaceAssessmentItem(ctx, item); err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
	}

	all, err := db.GetAllAssessmentItems(ctx)
	if err != nil {
		t.Fatalf("GetAllAssessmentItems failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("got %d rows, want 1", len(all))
	}

	want := *item
	want.PendingSync = true
	if diff := cmp.Diff(&want, all[0], ignoreRev); diff != "" {
		t.Errorf("stored item mismatch (-want +got):\n%s", diff)
	}
}

func TestGetByID_Absent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	it, err := db.GetAssessmentItemByID(ctx, 99)
	if err != nil || it != nil {
		t.Errorf("GetAssessmentItemByID = %v, %v; want nil, nil", it, err)
	}
	a, err := db.GetAppointmentByID(ctx, 99)
	if err != nil || a != nil {
		t.Errorf("GetAppointmentByID = %v, %v; want nil, nil", a, err)
	}
	m, err := db.GetMediaFileByID(ctx, 99)
	if err != nil || m != nil {
		t.Errorf("GetMediaFileByID = %v, %v; want nil, nil", m, err)
	}
}

func TestPendingSync_MarkSynced(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.InsertOrReplaceAssessmentItem(ctx, sampleItem(10), AsClean()); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if ids := pendingItemIDs(t, db); len(ids) != 0 {
		t.Fatalf("clean insert is pending: %v", ids)
	}

	if _, err := db.UpdateAssessmentItem(ctx, 10, func(it *AssessmentItem) error {
		it.Qty = 3
		return nil
	}); err != nil {
		t.Fatalf("UpdateAssessmentItem failed: %v", err)
	}
	if ids := pendingItemIDs(t, db); !cmp.Equal(ids, []int64{10}) {
		t.Fatalf("pending after update = %v, want [10]", ids)
	}

	if err := db.MarkAssessmentItemsSynced(ctx, 10); err != nil {
		t.Fatalf("MarkAssessmentItemsSynced failed: %v", err)
	}
	if ids := pendingItemIDs(t, db); len(ids) != 0 {
		t.Fatalf("pending after mark = %v, want none", ids)
	}

	// Marking a clean or missing id is a no-op.
	if err := db.MarkAssessmentItemsSynced(ctx, 10, 12345); err != nil {
		t.Errorf("second MarkAssessmentItemsSynced failed: %v", err)
	}

	it, err := db.GetAssessmentItemByID(ctx, 10)
	if err != nil {
		t.Fatalf("GetAssessmentItemByID failed: %v", err)
	}
	if !it.IsSynced || it.SyncTimestamp == nil {
		t.Errorf("issynced = %v, synctimestamp = %v; want set", it.IsSynced, it.SyncTimestamp)
	}
}

func TestMarkAppointmentsSynced_StampsLastSynced(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.InsertOrReplaceAppointment(ctx, &Appointment{AppointmentID: 42, Location: "Sydney"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := db.MarkAppointmentsSynced(ctx, 42); err != nil {
		t.Fatalf("MarkAppointmentsSynced failed: %v", err)
	}

	a, err := db.GetAppointmentByID(ctx, 42)
	if err != nil {
		t.Fatalf("GetAppointmentByID failed: %v", err)
	}
	if a.PendingSync {
		t.Error("appointment still pending")
	}
	if a.LastSyncedAt == nil {
		t.Error("last_synced_at not set")
	}
}

func TestUpdateAssessmentItem_PreservesOtherFields(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	orig := sampleItem(20)
	if err := db.InsertOrReplaceAssessmentItem(ctx, orig); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	updated, err := db.UpdateAssessmentItem(ctx, 20, func(it *AssessmentItem) error {
		it.Price = 750
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateAssessmentItem failed: %v", err)
	}

	got, err := db.GetAssessmentItemByID(ctx, 20)
	if err != nil {
		t.Fatalf("GetAssessmentItemByID failed: %v", err)
	}
	if got.Price != 750 {
		t.Errorf("Price = %v, want 750", got.Price)
	}
	if got.DateUpdated == nil {
		t.Error("dateupdated not stamped")
	}
	if got.Rev != updated.Rev {
		t.Errorf("returned Rev %d, stored Rev %d", updated.Rev, got.Rev)
	}

	want := *orig
	want.Price = 750
	want.PendingSync = true
	if diff := cmp.Diff(&want, got, ignoreRev, cmpopts.IgnoreFields(AssessmentItem{}, "DateUpdated")); diff != "" {
		t.Errorf("sibling fields changed (-want +got):\n%s", diff)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.UpdateAssessmentItem(ctx, 1, func(*AssessmentItem) error { return nil })
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("UpdateAssessmentItem err = %v, want ErrRecordNotFound", err)
	}
	_, err = db.UpdateAppointment(ctx, 1, func(*Appointment) error { return nil })
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("UpdateAppointment err = %v, want ErrRecordNotFound", err)
	}
	if err := db.DeleteMediaFile(ctx, 1); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("DeleteMediaFile err = %v, want ErrRecordNotFound", err)
	}
}

func TestMarkSyncedAt_RevisionGuard(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.InsertOrReplaceAssessmentMaster(ctx, &AssessmentMaster{RiskAssessmentID: 5, TotalValue: 100}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	submitted, err := db.GetAssessmentMasterByID(ctx, 5)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	// Edited after the snapshot was taken.
	if _, err := db.UpdateAssessmentMaster(ctx, 5, func(m *AssessmentMaster) error {
		m.IsComplete = true
		return nil
	}); err != nil {
		t.Fatalf("UpdateAssessmentMaster failed: %v", err)
	}

	cleared, err := db.MarkSyncedAt(ctx, KindAssessmentMaster, []SyncMark{{ID: 5, Rev: submitted.Rev}})
	if err != nil {
		t.Fatalf("MarkSyncedAt failed: %v", err)
	}
	if cleared != 0 {
		t.Errorf("cleared = %d, want 0 for a stale revision", cleared)
	}

	current, _ := db.GetAssessmentMasterByID(ctx, 5)
	if !current.PendingSync {
		t.Fatal("row edited after submission was cleared")
	}

	cleared, err = db.MarkSyncedAt(ctx, KindAssessmentMaster, []SyncMark{{ID: 5, Rev: current.Rev}})
	if err != nil || cleared != 1 {
		t.Errorf("MarkSyncedAt current rev = %d, %v; want 1, nil", cleared, err)
	}
}

func TestAllocateLocalID_Unique(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	seen := map[int64]bool{}
	for i := 0; i < 5; i++ {
		id, err := db.AllocateLocalID(ctx)
		if err != nil {
			t.Fatalf("AllocateLocalID failed: %v", err)
		}
		if !IsLocalID(id) {
			t.Errorf("id %d is not local", id)
		}
		if seen[id] {
			t.Errorf("id %d allocated twice", id)
		}
		seen[id] = true
	}
}

func TestRemapID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	localID, err := db.AllocateLocalID(ctx)
	if err != nil {
		t.Fatalf("AllocateLocalID failed: %v", err)
	}
	if err := db.InsertOrReplaceAssessmentItem(ctx, sampleItem(localID)); err != nil {
		t.Fatalf("insert local failed: %v", err)
	}
	// A stale copy of the server row must be replaced, not duplicated.
	stale := sampleItem(900)
	stale.Description = "stale"
	if err := db.InsertOrReplaceAssessmentItem(ctx, stale, AsClean()); err != nil {
		t.Fatalf("insert server row failed: %v", err)
	}
	photo := &MediaFile{FileName: "p.jpg", EntityName: string(KindAssessmentItem), EntityID: localID}
	if err := db.InsertOrReplaceMediaFile(ctx, photo); err != nil {
		t.Fatalf("insert media failed: %v", err)
	}

	if err := db.RemapID(ctx, KindAssessmentItem, localID, 900); err != nil {
		t.Fatalf("RemapID failed: %v", err)
	}

	all, _ := db.GetAllAssessmentItems(ctx)
	if len(all) != 1 || all[0].RiskAssessmentItemID != 900 {
		t.Fatalf("items after remap = %+v", all)
	}
	if all[0].Description != "65 inch OLED" {
		t.Errorf("Description = %q, want local row content", all[0].Description)
	}

	photos, _ := db.GetMediaFilesForEntity(ctx, string(KindAssessmentItem), 900, false)
	if len(photos) != 1 {
		t.Errorf("media not repointed: %+v", photos)
	}

	if err := db.RemapID(ctx, KindAssessmentItem, localID, 901); err != nil {
		t.Errorf("remap of a missing local row should be a no-op, got %v", err)
	}
	if err := db.RemapID(ctx, KindAssessmentItem, 5, 6); err == nil {
		t.Error("remap of a server id should fail")
	}
}

func TestHardDelete_Tombstones(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	localID, _ := db.AllocateLocalID(ctx)
	for _, id := range []int64{300, localID} {
		if err := db.InsertOrReplaceAssessmentItem(ctx, sampleItem(id)); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		if err := db.DeleteAssessmentItem(ctx, id); err != nil {
			t.Fatalf("DeleteAssessmentItem failed: %v", err)
		}
	}
	if err := db.DeleteAssessmentItem(ctx, 301); err != nil {
		t.Fatalf("delete of missing row failed: %v", err)
	}

	if all, _ := db.GetAllAssessmentItems(ctx); len(all) != 0 {
		t.Errorf("rows left after delete: %d", len(all))
	}

	stones, err := db.GetTombstones(ctx)
	if err != nil {
		t.Fatalf("GetTombstones failed: %v", err)
	}
	if len(stones) != 1 || stones[0].EntityType != KindAssessmentItem || stones[0].EntityID != 300 {
		t.Fatalf("tombstones = %+v, want one for item 300", stones)
	}

	if err := db.ClearTombstones(ctx, stones[0].ID); err != nil {
		t.Fatalf("ClearTombstones failed: %v", err)
	}
	if stones, _ := db.GetTombstones(ctx); len(stones) != 0 {
		t.Errorf("tombstones after clear = %+v", stones)
	}
}

func TestMediaSoftDelete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	m := &MediaFile{
		FileName:   "AssessmentItem_7_1700000000000.jpg",
		FileType:   "image/jpeg",
		EntityName: "AssessmentItem",
		EntityID:   7,
		Metadata:   json.RawMessage(`{"caption":"front"}`),
		LocalPath:  "/media/AssessmentItem_7_1700000000000.jpg",
	}
	if err := db.InsertOrReplaceMediaFile(ctx, m); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if m.MediaID == 0 {
		t.Fatal("MediaID not assigned")
	}
	if err := db.MarkMediaFilesSynced(ctx, m.MediaID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	if err := db.DeleteMediaFile(ctx, m.MediaID); err != nil {
		t.Fatalf("DeleteMediaFile failed: %v", err)
	}

	visible, _ := db.GetMediaFilesForEntity(ctx, "AssessmentItem", 7, false)
	if len(visible) != 0 {
		t.Errorf("deleted media visible by default: %+v", visible)
	}
	all, _ := db.GetMediaFilesForEntity(ctx, "AssessmentItem", 7, true)
	if len(all) != 1 {
		t.Fatalf("includeDeleted returned %d rows, want 1", len(all))
	}
	if !all[0].IsDeleted || !all[0].PendingSync {
		t.Errorf("deleted = %v, pending = %v; want both true", all[0].IsDeleted, all[0].PendingSync)
	}
	if string(all[0].Metadata) != `{"caption":"front"}` {
		t.Errorf("Metadata = %s", all[0].Metadata)
	}

	// Never uploaded, so nothing for the server to forget.
	if stones, _ := db.GetTombstones(ctx); len(stones) != 0 {
		t.Errorf("tombstones = %+v, want none", stones)
	}

	if err := db.HardDeleteMediaFile(ctx, m.MediaID); err != nil {
		t.Fatalf("HardDeleteMediaFile failed: %v", err)
	}
	if got, _ := db.GetMediaFileByID(ctx, m.MediaID); got != nil {
		t.Error("row survived hard delete")
	}
}

func TestImportAssessmentItems(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	items := []*AssessmentItem{sampleItem(1), sampleItem(2), sampleItem(3)}
	for run := 0; run < 2; run++ {
		n, err := db.ImportAssessmentItems(ctx, items, AsClean())
		if err != nil || n != 3 {
			t.Fatalf("run %d: ImportAssessmentItems = %d, %v", run, n, err)
		}
	}

	all, _ := db.GetAssessmentItemsByCategory(ctx, 7)
	if len(all) != 3 {
		t.Errorf("got %d items, want 3", len(all))
	}
	if ids := pendingItemIDs(t, db); len(ids) != 0 {
		t.Errorf("imported items pending: %v", ids)
	}
}

func TestTableStatsAndReset(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	db.InsertOrReplaceAppointment(ctx, &Appointment{AppointmentID: 1})
	db.InsertOrReplaceAppointment(ctx, &Appointment{AppointmentID: 2}, AsClean())

	stats, err := db.TableStats(ctx)
	if err != nil {
		t.Fatalf("TableStats failed: %v", err)
	}
	if stats[0].Table != "appointments" || stats[0].Rows != 2 || stats[0].Pending != 1 {
		t.Errorf("appointments stat = %+v", stats[0])
	}

	if err := db.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if n, _ := db.CountPending(ctx, KindAppointment); n != 0 {
		t.Errorf("pending after reset = %d", n)
	}
	if all, _ := db.GetAllAppointments(ctx); len(all) != 0 {
		t.Errorf("rows after reset = %d", len(all))
	}
}

package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

// fakeBlobStore is an in-memory BlobStore with failure injection
type fakeBlobStore struct {
	objects        map[string]fakeBlobObject
	failStore      bool
	failDelete     bool
	failOnFilename string
}

type fakeBlobObject struct {
	data  []byte
	attrs BlobAttributes
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string]fakeBlobObject{}}
}

func (f *fakeBlobStore) Store(ctx context.Context, id string, data io.Reader, attrs *BlobAttributes) error {
	if f.failStore || (f.failOnFilename != "" && attrs != nil && attrs.Filename == f.failOnFilename) {
		return fmt.Errorf("injected blob store failure")
	}
	payload, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	obj := fakeBlobObject{data: payload}
	if attrs != nil {
		obj.attrs = *attrs
	}
	f.objects[id] = obj
	return nil
}

func (f *fakeBlobStore) Retrieve(ctx context.Context, id string) (io.ReadCloser, *BlobAttributes, error) {
	obj, ok := f.objects[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	attrs := obj.attrs
	return io.NopCloser(bytes.NewReader(obj.data)), &attrs, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, id string) bool {
	if f.failDelete {
		return false
	}
	delete(f.objects, id)
	return true
}

func (f *fakeBlobStore) List(ctx context.Context) ([]*BlobEntry, error) {
	entries := make([]*BlobEntry, 0, len(f.objects))
	for id, obj := range f.objects {
		entries = append(entries, &BlobEntry{ID: id, Attributes: obj.attrs})
	}
	return entries, nil
}

// failingMetadataStore fails every catalog insert
type failingMetadataStore struct {
	RelationalStore
}

func (f *failingMetadataStore) StoreMetadata(ctx context.Context, record *FileRecord) error {
	return fmt.Errorf("injected metadata failure")
}

func newTestManager(t *testing.T) (*StorageManager, *fakeBlobStore, *SQLiteStore) {
	t.Helper()
	blobs := newFakeBlobStore()
	db := newTestStore(t)
	return NewStorageManager(blobs, db, nil), blobs, db
}

func upload(name string, size int64, body string) *FileUpload {
	return &FileUpload{Filename: name, Size: size, Body: strings.NewReader(body)}
}

func TestStoreTierSelection(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		requested StorageType
		want      StorageType
	}{
		{"small default", 10 * 1024, "", StorageTypeRelational},
		{"small relational", 10 * 1024, StorageTypeRelational, StorageTypeRelational},
		{"small blob honored", 10 * 1024, StorageTypeBlob, StorageTypeBlob},
		{"exactly at threshold stays relational", TierForcingThreshold, StorageTypeRelational, StorageTypeRelational},
		{"one past threshold forced to blob", TierForcingThreshold + 1, StorageTypeRelational, StorageTypeBlob},
		{"30 MB forced to blob", 31457280, StorageTypeRelational, StorageTypeBlob},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			manager, _, _ := newTestManager(t)

			record, err := manager.Store(context.Background(), upload("f.bin", tc.size, "content"), tc.requested)
			if err != nil {
				t.Fatalf("Store failed: %v", err)
			}
			if record.StorageType != tc.want {
				t.Errorf("StorageType = %q, want %q", record.StorageType, tc.want)
			}
			if record.Size != tc.size {
				t.Errorf("Size = %d, want %d", record.Size, tc.size)
			}
			if record.ID == "" {
				t.Error("Store returned record with empty id")
			}
		})
	}
}

func TestRoundTripBothTiers(t *testing.T) {
	for _, tier := range []StorageType{StorageTypeBlob, StorageTypeRelational} {
		t.Run(string(tier), func(t *testing.T) {
			manager, _, _ := newTestManager(t)
			ctx := context.Background()

			payload := "round trip payload \x00\x01\xfe\xff"
			record, err := manager.Store(ctx, upload("notes/today.md", int64(len(payload)), payload), tier)
			if err != nil {
				t.Fatalf("Store failed: %v", err)
			}

			file, err := manager.Retrieve(ctx, record.ID)
			if err != nil {
				t.Fatalf("Retrieve failed: %v", err)
			}
			defer file.Body.Close()

			got, err := io.ReadAll(file.Body)
			if err != nil {
				t.Fatalf("Failed to read body: %v", err)
			}
			if string(got) != payload {
				t.Errorf("Content mismatch: got %q", got)
			}
			if file.Record.Filename != "notes/today.md" {
				t.Errorf("Filename = %q, want notes/today.md", file.Record.Filename)
			}
			if file.Record.StorageType != tier {
				t.Errorf("StorageType = %q, want %q", file.Record.StorageType, tier)
			}
		})
	}
}

func TestRetrieveNotFound(t *testing.T) {
	manager, _, _ := newTestManager(t)

	_, err := manager.Retrieve(context.Background(), "nosuchid")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Retrieve for absent id returned %v, want ErrNotFound", err)
	}
}

func TestRetrieveOrphanReportsNotFound(t *testing.T) {
	manager, blobs, _ := newTestManager(t)
	ctx := context.Background()

	record, err := manager.Store(ctx, upload("gone.bin", 5, "bytes"), StorageTypeBlob)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Lose the content half behind the catalog's back
	delete(blobs.objects, record.ID)

	_, err = manager.Retrieve(ctx, record.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Retrieve of orphaned id returned %v, want ErrNotFound", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	record, err := manager.Store(ctx, upload("d.txt", 4, "data"), StorageTypeRelational)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	deleted, err := manager.Delete(ctx, record.ID)
	if err != nil || !deleted {
		t.Fatalf("First Delete = (%v, %v), want (true, nil)", deleted, err)
	}

	deleted, err = manager.Delete(ctx, record.ID)
	if err != nil {
		t.Fatalf("Second Delete errored: %v", err)
	}
	if deleted {
		t.Error("Second Delete returned true, want false")
	}

	if _, err := manager.Retrieve(ctx, record.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Retrieve after delete returned %v, want ErrNotFound", err)
	}
}

func TestDeleteFailureKeepsMetadata(t *testing.T) {
	manager, blobs, db := newTestManager(t)
	ctx := context.Background()

	record, err := manager.Store(ctx, upload("keep.bin", 4, "data"), StorageTypeBlob)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	blobs.failDelete = true
	deleted, err := manager.Delete(ctx, record.ID)
	if deleted {
		t.Error("Delete reported success despite content tier failure")
	}
	var backendErr *BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("Delete returned %v, want *BackendError", err)
	}

	// The record must stay discoverable for retry
	if _, err := db.GetMetadata(ctx, record.ID); err != nil {
		t.Fatalf("Metadata gone after failed content delete: %v", err)
	}
}

func TestStoreContentFailure(t *testing.T) {
	manager, blobs, db := newTestManager(t)
	blobs.failStore = true

	_, err := manager.Store(context.Background(), upload("f.bin", 4, "data"), StorageTypeBlob)
	var backendErr *BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("Store returned %v, want *BackendError", err)
	}
	if backendErr.Tier != StorageTypeBlob {
		t.Errorf("BackendError.Tier = %q, want %q", backendErr.Tier, StorageTypeBlob)
	}

	// Nothing may land in the catalog when the content write failed
	records, err := db.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Catalog has %d rows after failed store, want 0", len(records))
	}
}

func TestStoreMetadataFailureReportsOrphan(t *testing.T) {
	blobs := newFakeBlobStore()
	db := newTestStore(t)
	manager := NewStorageManager(blobs, &failingMetadataStore{RelationalStore: db}, nil)

	_, err := manager.Store(context.Background(), upload("o.bin", 4, "data"), StorageTypeBlob)
	var orphanErr *OrphanError
	if !errors.As(err, &orphanErr) {
		t.Fatalf("Store returned %v, want *OrphanError", err)
	}
	if orphanErr.Missing != OrphanMissingMetadata {
		t.Errorf("OrphanError.Missing = %q, want %q", orphanErr.Missing, OrphanMissingMetadata)
	}

	// The content half was written and is what makes this an orphan
	if len(blobs.objects) != 1 {
		t.Errorf("Blob tier holds %d objects, want 1", len(blobs.objects))
	}
}

func TestListMixedTiers(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	big, err := manager.Store(ctx, upload("big.iso", TierForcingThreshold+1, "x"), StorageTypeRelational)
	if err != nil {
		t.Fatalf("Store big failed: %v", err)
	}
	small, err := manager.Store(ctx, upload("small.txt", 10, "0123456789"), StorageTypeRelational)
	if err != nil {
		t.Fatalf("Store small failed: %v", err)
	}

	records, err := manager.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("List returned %d records, want 2", len(records))
	}

	tiers := map[string]StorageType{}
	for _, r := range records {
		tiers[r.ID] = r.StorageType
	}
	if tiers[big.ID] != StorageTypeBlob {
		t.Errorf("big file tier = %q, want %q", tiers[big.ID], StorageTypeBlob)
	}
	if tiers[small.ID] != StorageTypeRelational {
		t.Errorf("small file tier = %q, want %q", tiers[small.ID], StorageTypeRelational)
	}

	if _, err := manager.Delete(ctx, big.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	records, err = manager.List(ctx)
	if err != nil {
		t.Fatalf("List after delete failed: %v", err)
	}
	if len(records) != 1 || records[0].ID != small.ID {
		t.Errorf("List after delete = %d records, want only %s", len(records), small.ID)
	}
}

func TestScanOrphans(t *testing.T) {
	manager, blobs, db := newTestManager(t)
	ctx := context.Background()

	healthy, err := manager.Store(ctx, upload("ok.bin", 4, "data"), StorageTypeBlob)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Catalog row whose blob vanished
	lost, err := manager.Store(ctx, upload("lost.bin", 4, "data"), StorageTypeBlob)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	delete(blobs.objects, lost.ID)

	// Relational row whose content vanished
	hollow, err := manager.Store(ctx, upload("hollow.txt", 4, "data"), StorageTypeRelational)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if !db.DeleteContent(ctx, hollow.ID) {
		t.Fatal("Failed to remove content row for test setup")
	}

	// Blob with no catalog row
	if err := blobs.Store(ctx, "stray99", strings.NewReader("x"), &BlobAttributes{Filename: "stray"}); err != nil {
		t.Fatalf("Failed to plant stray blob: %v", err)
	}

	report, err := manager.ScanOrphans(ctx)
	if err != nil {
		t.Fatalf("ScanOrphans failed: %v", err)
	}

	missingContent := map[string]bool{}
	for _, id := range report.MissingContent {
		missingContent[id] = true
	}
	if !missingContent[lost.ID] || !missingContent[hollow.ID] || len(report.MissingContent) != 2 {
		t.Errorf("MissingContent = %v, want exactly {%s, %s}", report.MissingContent, lost.ID, hollow.ID)
	}
	if len(report.MissingMetadata) != 1 || report.MissingMetadata[0] != "stray99" {
		t.Errorf("MissingMetadata = %v, want [stray99]", report.MissingMetadata)
	}
	if missingContent[healthy.ID] {
		t.Errorf("Healthy file %s flagged as orphan", healthy.ID)
	}
}

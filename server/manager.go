package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// StorageManager routes files between the two tiers and keeps the metadata
// catalog consistent with whichever tier holds the bytes. It carries no
// mutable state, so a single instance serves all requests.
type StorageManager struct {
	blobs BlobStore
	db    RelationalStore
	cache Cache
}

// NewStorageManager creates a storage manager over the two tiers. A nil
// cache falls back to NoOpCache.
func NewStorageManager(blobs BlobStore, db RelationalStore, cache Cache) *StorageManager {
	if cache == nil {
		cache = &NoOpCache{}
	}
	return &StorageManager{
		blobs: blobs,
		db:    db,
		cache: cache,
	}
}

// Store writes the upload to a tier and its metadata row to the catalog.
// Files over TierForcingThreshold go to the blob tier regardless of the
// requested tier; otherwise the request is honored, defaulting to
// relational. A partial failure after the content write comes back as an
// *OrphanError naming the missing half.
func (m *StorageManager) Store(ctx context.Context, upload *FileUpload, requested StorageType) (*FileRecord, error) {
	storageType := requested
	if storageType == "" {
		storageType = StorageTypeRelational
	}
	if upload.Size > TierForcingThreshold {
		storageType = StorageTypeBlob
	}

	record := &FileRecord{
		ID:             GenerateID(FileIDLength),
		Filename:       upload.Filename,
		Path:           upload.Path,
		Size:           upload.Size,
		StorageType:    storageType,
		CreatedAt:      time.Now().UTC(),
		PreviewEnabled: upload.PreviewEnabled,
	}

	switch storageType {
	case StorageTypeBlob:
		attrs := &BlobAttributes{
			Filename:       record.Filename,
			Path:           record.Path,
			Size:           record.Size,
			CreatedAt:      record.CreatedAt,
			PreviewEnabled: record.PreviewEnabled,
		}
		if err := m.blobs.Store(ctx, record.ID, upload.Body, attrs); err != nil {
			observeStorageOp("store", StorageTypeBlob, err)
			return nil, &BackendError{Tier: StorageTypeBlob, Op: "store content", Err: err}
		}
	case StorageTypeRelational:
		if err := m.db.StoreContent(ctx, record.ID, upload.Body); err != nil {
			observeStorageOp("store", StorageTypeRelational, err)
			return nil, &BackendError{Tier: StorageTypeRelational, Op: "store content", Err: err}
		}
	}
	observeStorageOp("store", storageType, nil)

	// The catalog row is written second; if it fails the content is already
	// durable and the upload must not be reported as lost.
	if err := m.db.StoreMetadata(ctx, record); err != nil {
		log.Warn().Str("id", record.ID).Str("tier", string(storageType)).Err(err).
			Msg("Orphan: content written but metadata write failed")
		return nil, &OrphanError{ID: record.ID, Missing: OrphanMissingMetadata, Err: err}
	}

	if err := m.cache.SetRecord(ctx, record); err != nil {
		log.Debug().Err(err).Str("id", record.ID).Msg("Failed to cache record")
	}

	return record, nil
}

// Retrieve looks up the metadata row first and dispatches to the tier it
// names. A missing row is a clean ErrNotFound; a row whose tier no longer
// has the content is also ErrNotFound to the caller, but logged as an
// orphan.
func (m *StorageManager) Retrieve(ctx context.Context, id string) (*File, error) {
	record, err := m.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	switch record.StorageType {
	case StorageTypeBlob:
		stream, _, err := m.blobs.Retrieve(ctx, id)
		observeStorageOp("retrieve", StorageTypeBlob, err)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				log.Warn().Str("id", id).Str("tier", string(StorageTypeBlob)).
					Msg("Orphan: metadata present but blob content missing")
				return nil, ErrNotFound
			}
			return nil, &BackendError{Tier: StorageTypeBlob, Op: "retrieve content", Err: err}
		}
		return &File{Body: stream, Record: record}, nil
	case StorageTypeRelational:
		stream, err := m.db.RetrieveContent(ctx, id)
		observeStorageOp("retrieve", StorageTypeRelational, err)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				log.Warn().Str("id", id).Str("tier", string(StorageTypeRelational)).
					Msg("Orphan: metadata present but content row missing")
				return nil, ErrNotFound
			}
			return nil, &BackendError{Tier: StorageTypeRelational, Op: "retrieve content", Err: err}
		}
		return &File{Body: stream, Record: record}, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q for file %s", record.StorageType, id)
	}
}

// Delete removes the content and then the metadata row. A missing row
// returns (false, nil). If the content tier refuses the delete, the
// metadata row is left intact so the file stays discoverable for retry.
func (m *StorageManager) Delete(ctx context.Context, id string) (bool, error) {
	record, err := m.db.GetMetadata(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, &BackendError{Tier: StorageTypeRelational, Op: "get metadata", Err: err}
	}

	var ok bool
	switch record.StorageType {
	case StorageTypeBlob:
		ok = m.blobs.Delete(ctx, id)
	case StorageTypeRelational:
		ok = m.db.DeleteContent(ctx, id)
	}
	if !ok {
		observeStorageOp("delete", record.StorageType, errors.New("rejected"))
		return false, &BackendError{Tier: record.StorageType, Op: "delete content", Err: errors.New("content tier rejected delete")}
	}
	observeStorageOp("delete", record.StorageType, nil)

	if err := m.db.DeleteMetadata(ctx, id); err != nil {
		log.Warn().Str("id", id).Err(err).
			Msg("Orphan: content deleted but metadata row remains")
		return false, &OrphanError{ID: id, Missing: OrphanMissingContent, Err: err}
	}

	if err := m.cache.DeleteRecord(ctx, id); err != nil {
		log.Debug().Err(err).Str("id", id).Msg("Failed to evict cached record")
	}

	return true, nil
}

// List returns every file record from the catalog, most recent first. The
// blob tier is never consulted; the catalog is the single source of the
// listing.
func (m *StorageManager) List(ctx context.Context) ([]*FileRecord, error) {
	records, err := m.db.List(ctx)
	if err != nil {
		return nil, &BackendError{Tier: StorageTypeRelational, Op: "list metadata", Err: err}
	}
	return records, nil
}

// GetMetadata returns the catalog row for id, consulting the cache first.
func (m *StorageManager) GetMetadata(ctx context.Context, id string) (*FileRecord, error) {
	return m.getRecord(ctx, id)
}

// SaveSettings passes through to the relational tier
func (m *StorageManager) SaveSettings(ctx context.Context, settings *Settings) error {
	return m.db.SaveSettings(ctx, settings)
}

// LoadSettings passes through to the relational tier
func (m *StorageManager) LoadSettings(ctx context.Context) (*Settings, error) {
	return m.db.LoadSettings(ctx)
}

// OrphanReport is the result of a reconciliation scan: files whose two
// halves disagree about existence.
type OrphanReport struct {
	// Catalog rows whose tier no longer has the content
	MissingContent []string `json:"missing_content"`
	// Blob objects with no catalog row
	MissingMetadata []string `json:"missing_metadata"`
}

// ScanOrphans compares the catalog against both tiers in each direction.
// It is a read-only report; nothing is repaired.
func (m *StorageManager) ScanOrphans(ctx context.Context) (*OrphanReport, error) {
	records, err := m.db.List(ctx)
	if err != nil {
		return nil, &BackendError{Tier: StorageTypeRelational, Op: "list metadata", Err: err}
	}

	entries, err := m.blobs.List(ctx)
	if err != nil {
		return nil, &BackendError{Tier: StorageTypeBlob, Op: "list content", Err: err}
	}

	blobIDs := make(map[string]bool, len(entries))
	for _, entry := range entries {
		blobIDs[entry.ID] = true
	}

	report := &OrphanReport{
		MissingContent:  []string{},
		MissingMetadata: []string{},
	}

	catalogIDs := make(map[string]bool, len(records))
	for _, record := range records {
		catalogIDs[record.ID] = true
		switch record.StorageType {
		case StorageTypeBlob:
			if !blobIDs[record.ID] {
				report.MissingContent = append(report.MissingContent, record.ID)
			}
		case StorageTypeRelational:
			exists, err := m.db.ContentExists(ctx, record.ID)
			if err != nil {
				return nil, &BackendError{Tier: StorageTypeRelational, Op: "check content", Err: err}
			}
			if !exists {
				report.MissingContent = append(report.MissingContent, record.ID)
			}
		}
	}

	for _, entry := range entries {
		if !catalogIDs[entry.ID] {
			report.MissingMetadata = append(report.MissingMetadata, entry.ID)
		}
	}

	return report, nil
}

// getRecord fetches a catalog row, cache first, populating the cache on a
// database hit.
func (m *StorageManager) getRecord(ctx context.Context, id string) (*FileRecord, error) {
	if record, err := m.cache.GetRecord(ctx, id); err == nil {
		return record, nil
	}

	record, err := m.db.GetMetadata(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, &BackendError{Tier: StorageTypeRelational, Op: "get metadata", Err: err}
	}

	if err := m.cache.SetRecord(ctx, record); err != nil {
		log.Debug().Err(err).Str("id", id).Msg("Failed to cache record")
	}

	return record, nil
}

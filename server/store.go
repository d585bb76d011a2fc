package server

import (
	"context"
	"io"
	"time"
)

// StorageType identifies which tier owns a file's bytes.
type StorageType string

const (
	// StorageTypeBlob is the object-store tier for large files.
	StorageTypeBlob StorageType = "blob"
	// StorageTypeRelational is the database tier for small files.
	StorageTypeRelational StorageType = "relational"
)

// TierForcingThreshold is the size in bytes past which the blob tier is
// mandatory regardless of the requested tier. Exactly 25 MiB.
const TierForcingThreshold int64 = 26214400

// FileRecord is the canonical metadata row for a stored file. The relational
// tier holds one row per file no matter which tier holds the content.
type FileRecord struct {
	ID             string      `json:"id" gorm:"primaryKey;column:id"`
	Filename       string      `json:"filename"`
	Path           string      `json:"path"`
	Size           int64       `json:"size"`
	StorageType    StorageType `json:"storage_type" gorm:"column:storage_type"`
	CreatedAt      time.Time   `json:"created_at"`
	PreviewEnabled bool        `json:"preview_enabled"`
}

// TableName sets the metadata catalog table name.
func (FileRecord) TableName() string { return "files" }

// Settings is the single logical settings row. Field names mirror what the
// web UI sends.
type Settings struct {
	ID              string `json:"-" gorm:"primaryKey;column:id"`
	Theme           string `json:"theme,omitempty"`
	Language        string `json:"language,omitempty"`
	BackgroundImage string `json:"backgroundImage,omitempty"`
	BackgroundColor string `json:"backgroundColor,omitempty"`
	TextColor       string `json:"textColor,omitempty"`
}

// TableName sets the settings table name.
func (Settings) TableName() string { return "settings" }

// BlobAttributes are the descriptive attributes attached to a blob-tier
// object, independent of the metadata catalog.
type BlobAttributes struct {
	Filename       string
	Path           string
	Size           int64
	CreatedAt      time.Time
	PreviewEnabled bool
}

// BlobEntry is one object from a blob tier listing.
type BlobEntry struct {
	ID         string
	Attributes BlobAttributes
}

// FileUpload describes an incoming file to store.
type FileUpload struct {
	Filename       string
	Path           string
	Size           int64
	Body           io.Reader
	PreviewEnabled bool
}

// File is a retrieved file: the content stream plus its catalog record.
// Callers must close Body.
type File struct {
	Body   io.ReadCloser
	Record *FileRecord
}

// BlobStore defines the interface for the blob tier.
type BlobStore interface {
	// Store writes the content stream under key id with attrs attached as
	// object metadata. An existing object under the same key is overwritten.
	Store(ctx context.Context, id string, data io.Reader, attrs *BlobAttributes) error
	// Retrieve returns the content stream and attributes for id, or
	// ErrNotFound. Missing attribute fields come back defaulted, not as an
	// error.
	Retrieve(ctx context.Context, id string) (io.ReadCloser, *BlobAttributes, error)
	// Delete removes the object. Returns false on backend failure; an
	// already-absent object counts as success.
	Delete(ctx context.Context, id string) bool
	// List enumerates every stored object, following pagination until
	// exhausted.
	List(ctx context.Context) ([]*BlobEntry, error)
}

// RelationalStore defines the interface for the relational tier: the metadata
// catalog for all files, content rows for small files, and the settings row.
type RelationalStore interface {
	// Initialize creates the schema. Idempotent; safe to call on every
	// startup.
	Initialize(ctx context.Context) error

	// Metadata catalog operations
	StoreMetadata(ctx context.Context, record *FileRecord) error
	GetMetadata(ctx context.Context, id string) (*FileRecord, error)
	DeleteMetadata(ctx context.Context, id string) error
	List(ctx context.Context) ([]*FileRecord, error)

	// Content operations for relational-tier files
	StoreContent(ctx context.Context, id string, data io.Reader) error
	RetrieveContent(ctx context.Context, id string) (io.ReadCloser, error)
	DeleteContent(ctx context.Context, id string) bool
	ContentExists(ctx context.Context, id string) (bool, error)

	// Settings operations
	SaveSettings(ctx context.Context, settings *Settings) error
	LoadSettings(ctx context.Context) (*Settings, error)
}

// ParseStorageType maps a request value to a StorageType. An empty value
// returns the empty StorageType so the caller can apply its default.
func ParseStorageType(value string) (StorageType, bool) {
	switch StorageType(value) {
	case StorageTypeBlob, StorageTypeRelational:
		return StorageType(value), true
	case "":
		return "", true
	default:
		return "", false
	}
}

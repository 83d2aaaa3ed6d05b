package backup

import (
	"context"
	"time"
)

// Config controls periodic graph database backups.
type Config struct {
	Enabled   bool
	Interval  time.Duration
	LocalDir  string
	KeepLast  int
	BucketURL string

	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3SessionToken string
	S3UseSSL       bool
}

// Snapshotter produces a consistent copy of the database file.
type Snapshotter interface {
	DBPath() string
	SnapshotTo(ctx context.Context, dstPath string) error
}

// Uploader ships one backup artifact off the host.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string) error
}

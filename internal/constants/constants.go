package constants

import "time"

// Default configuration constants
const (
	// DefaultWorkers is the number of backing-store worker threads per device
	DefaultWorkers = 4

	// DefaultBlockSize is the default logical block size in bytes
	DefaultBlockSize = 512

	// SectorShift converts between 512-byte sectors and bytes
	SectorShift = 9

	// DefaultDeviceSize is the default size of devices whose template does not
	// derive one from the backing path (mem, null)
	DefaultDeviceSize = 64 << 20

	// DefaultRingEntries is the submission queue size of each aio ring
	DefaultRingEntries = 64

	// DefaultS3ChunkSize is the size of one object in the s3 template
	DefaultS3ChunkSize = 1 << 20

	// DefaultS3Retries bounds retries of a single S3 request
	DefaultS3Retries = 3
)

// NotifyToken is the single byte the relay writes when a batch is ready for
// the reactor. It is a control value only.
const NotifyToken byte = 'n'

// Timing constants
const (
	// ReactorDoTimeout bounds synchronous calls marshalled onto the reactor
	ReactorDoTimeout = 30 * time.Second

	// S3InitialBackoff is the first retry interval for S3 requests
	S3InitialBackoff = 50 * time.Millisecond
)

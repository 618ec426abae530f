package tgtbs

import "github.com/ehrlich-b/go-tgtbs/internal/constants"

// Re-export constants for public API
const (
	DefaultWorkers    = constants.DefaultWorkers
	DefaultBlockSize  = constants.DefaultBlockSize
	DefaultDeviceSize = constants.DefaultDeviceSize
)

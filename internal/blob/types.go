// Package blob re-exports the blob abstractions and opens the configured
// backend. Packages outside internal/blob depend on blob.Store only.
package blob

import (
	"pulse/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	// ErrUnsupported indicates an operation isn't supported by a driver.
	ErrUnsupported = core.ErrUnsupported
	// ErrNotFound indicates a missing key.
	ErrNotFound = core.ErrNotFound
)

// Latest returns the entry with the greatest key. Dataset keys embed a UTC
// timestamp, so the greatest key is the newest document.
func Latest(infos []Info) (Info, bool) {
	if len(infos) == 0 {
		return Info{}, false
	}
	best := infos[0]
	for _, info := range infos[1:] {
		if info.Key > best.Key {
			best = info
		}
	}
	return best, true
}

// SortByKey orders infos by key ascending in place.
func SortByKey(infos []Info) { core.SortByKey(infos) }

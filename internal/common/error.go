package common

import "fmt"

var (
	ErrInvalidInput         = fmt.Errorf("invalid input")
	ErrDestinationUnusable  = fmt.Errorf("destination directory is unusable")
	ErrListingUnavailable   = fmt.Errorf("listing unavailable")
	ErrParseAnomaly         = fmt.Errorf("cannot parse listing")
	ErrDownloadFailed       = fmt.Errorf("download failed")
	ErrFilesystem           = fmt.Errorf("filesystem error")
	ErrRunHasAlreadyStarted = fmt.Errorf("run has already started")
	ErrUnknownFileType      = fmt.Errorf("unknown file type")
)

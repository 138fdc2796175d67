package era5

import "errors"

// Failure classes of an archiving run. Step errors wrap one of these so callers
// can tell them apart with errors.Is. ErrScratch covers local temporary
// storage: the scratch directory and serialized variable files.
var (
	ErrListing       = errors.New("cannot list archive")
	ErrRetrieval     = errors.New("retrieval failed")
	ErrNormalization = errors.New("normalization failed")
	ErrUpload        = errors.New("upload failed")
	ErrScratch       = errors.New("scratch storage failed")
)

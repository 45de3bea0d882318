package nn

import "errors"

var (
	// ErrConfig marks construction-time configuration problems: bad
	// layer geometry, vocabularies without a pad entry, non-positive
	// flatten sizes. Not recoverable.
	ErrConfig = errors.New("configuration error")

	// ErrShape marks ragged or misaligned batch tensors. The offending
	// batch is aborted before it can corrupt accumulated statistics.
	ErrShape = errors.New("input shape error")
)

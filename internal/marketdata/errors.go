package marketdata

import "errors"

var (
	ErrTruncated   = errors.New("truncated payload")
	ErrWrongVariant = errors.New("unexpected variant")
)

package result

import "errors"

var (
	// ErrMissingOutput indicates a remote reply lacked a mandatory output argument.
	ErrMissingOutput = errors.New("result: missing output argument")

	// ErrMalformedOutput indicates an output argument could not be converted.
	ErrMalformedOutput = errors.New("result: malformed output argument")
)

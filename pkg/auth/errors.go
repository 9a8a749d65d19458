package auth

import "errors"

// ErrUnauthenticated means no usable credential was presented.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// ErrForbidden means a credential was presented but is not permitted here:
// wrong contour, missing scope, or tenant mismatch (spec.md §4.10).
var ErrForbidden = errors.New("auth: forbidden")

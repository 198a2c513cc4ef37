package profilestore

import "errors"

// ErrInvalidUserID is returned for an empty user id.
var ErrInvalidUserID = errors.New("profilestore: empty user id")

package sentinel

import "errors"

// ErrNotFound is returned (optionally wrapped) by stores when a record does
// not exist. Services and handlers translate it into a domain error.
var ErrNotFound = errors.New("not found")

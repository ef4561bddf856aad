package keeper

import "errors"

// ErrNotAuthorized is returned when the keeper address is not an authorized
// keeper on the ledger, or when authorization could not be verified.
var ErrNotAuthorized = errors.New("keeper address is not authorized on the ledger")

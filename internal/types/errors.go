package types

import "errors"

// ErrConfiguration marks an invalid policy or budget. It is returned at
// construction or SetBudget time and never recovered silently.
var ErrConfiguration = errors.New("configuration error")

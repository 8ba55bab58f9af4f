package flatkv

import "errors"

// ErrPivotChanged names the condition of a view iterator left stale by the
// generator's cursor advancing past the range it was reading. No function
// in this repository returns it.
var ErrPivotChanged = errors.New("flatkv: pivot changed")

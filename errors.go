package canary

import "errors"

// Sentinel errors surfaced by Engine. ErrInvalidConfig is returned by
// Config.Validate and New when the configuration fails validation; errors
// from lower-level packages are returned with their own sentinels.
var (
	ErrInvalidConfig = errors.New("canary: invalid configuration")
)

package doclite

import "github.com/doclite/doclite/internal/dberr"

// The concrete error kinds every operation in this package raises,
// re-exported from internal/dberr so callers can type-assert against
// them without reaching into an internal package.
type (
	ValidationError       = dberr.ValidationError
	UniqueConstraintError = dberr.UniqueConstraintError
	NotFoundError         = dberr.NotFoundError
	VersionMismatchError  = dberr.VersionMismatchError
	CheckConstraintError  = dberr.CheckConstraintError
	DatabaseError         = dberr.DatabaseError
	PluginError           = dberr.PluginError
	PluginTimeoutError    = dberr.PluginTimeoutError
)

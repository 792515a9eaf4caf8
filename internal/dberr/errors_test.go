package dberr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionMismatchErrorMessage(t *testing.T) {
	err := &VersionMismatchError{ID: "abc", Expected: 2, Actual: 3}
	assert.Contains(t, err.Error(), "abc")
	assert.Contains(t, err.Error(), "expected 2")
	assert.Contains(t, err.Error(), "actual 3")
}

func TestDatabaseErrorUnwraps(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := &DatabaseError{Code: "driver", Cause: cause}
	assert.ErrorIs(t, err, cause)
}

func TestClassifyConstraintViolationUnique(t *testing.T) {
	err, ok := ClassifyConstraintViolation("UNIQUE constraint failed: users.email", "u1")
	assert.True(t, ok)
	var uce *UniqueConstraintError
	assert.ErrorAs(t, err, &uce)
	assert.Equal(t, "email", uce.Field)
}

func TestClassifyConstraintViolationCheck(t *testing.T) {
	err, ok := ClassifyConstraintViolation("CHECK constraint failed: price", "p1")
	assert.True(t, ok)
	var cce *CheckConstraintError
	assert.ErrorAs(t, err, &cce)
}

func TestClassifyConstraintViolationUnrelated(t *testing.T) {
	_, ok := ClassifyConstraintViolation("no such table: users", "x")
	assert.False(t, ok)
}

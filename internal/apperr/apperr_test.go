package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindAndMessage(t *testing.T) {
	err := fmt.Errorf("place order: %w", Validation("quantity must be >= 1 for %s", "gloves"))
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Equal(t, "quantity must be >= 1 for gloves", Message(err))

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Empty(t, Message(errors.New("plain")))
}

func TestIs(t *testing.T) {
	err := NotFound("order not found")
	assert.True(t, errors.Is(err, NotFound("")))
	assert.True(t, errors.Is(err, NotFound("order not found")))
	assert.False(t, errors.Is(err, NotFound("product not found")))
	assert.False(t, errors.Is(err, InvalidState("")))
}

func TestTransientUnwraps(t *testing.T) {
	cause := errors.New("database is locked")
	err := Transient(cause, "update order %s", "o1")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindTransient, KindOf(err))
	assert.Contains(t, err.Error(), "database is locked")
	assert.Equal(t, "update order o1", Message(err))
}

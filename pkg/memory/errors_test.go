package memory_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemo-ai/mnemo-go/pkg/memory"
)

func TestStoreErrorWrapsSentinel(t *testing.T) {
	err := memory.NewStoreError("Save", memory.Validationf("user id is required"))
	require.Error(t, err)

	assert.True(t, errors.Is(err, memory.ErrValidation))
	assert.Contains(t, err.Error(), "mnemo: Save:")

	var storeErr *memory.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "Save", storeErr.Op)
}

func TestNewStoreErrorNil(t *testing.T) {
	assert.NoError(t, memory.NewStoreError("Save", nil))
}

func TestInternalf(t *testing.T) {
	err := memory.Internalf("driver said %q", "disk full")
	assert.True(t, errors.Is(err, memory.ErrInternal))
	assert.Contains(t, err.Error(), "disk full")
}

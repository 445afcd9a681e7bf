package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TestStruct struct {
	Prompt    string `json:"prompt" validate:"required"`
	NumImages *int   `json:"num_images" validate:"omitempty,gte=1"`
	Width     *int   `json:"width" validate:"omitempty,gt=0,lte=8192"`
	Internal  int    `validate:"lte=5"`
}

func intPtr(v int) *int { return &v }

func TestValidateStruct(t *testing.T) {
	t.Run("valid struct", func(t *testing.T) {
		s := TestStruct{Prompt: "cat", NumImages: intPtr(2), Width: intPtr(1080)}

		err := ValidateStruct(&s)
		assert.NoError(t, err)
	})

	t.Run("omitted optional fields", func(t *testing.T) {
		s := TestStruct{Prompt: "cat"}

		assert.NoError(t, ValidateStruct(&s))
	})

	t.Run("missing required field uses json name", func(t *testing.T) {
		s := TestStruct{}

		err := ValidateStruct(&s)
		assert.Error(t, err)
		assert.True(t, IsValidationError(err))

		fields := GetValidationFields(err)
		assert.Equal(t, "prompt is required", fields["prompt"])
	})

	t.Run("values out of range", func(t *testing.T) {
		s := TestStruct{Prompt: "cat", NumImages: intPtr(0), Width: intPtr(10000), Internal: 9}

		err := ValidateStruct(&s)
		require.Error(t, err)

		fields := GetValidationFields(err)
		assert.Equal(t, "num_images must be greater than or equal to 1", fields["num_images"])
		assert.Equal(t, "width must be less than or equal to 8192", fields["width"])
		assert.Contains(t, fields, "Internal")
	})
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Message: "Test validation error",
		Fields: map[string]string{
			"field1": "error1",
		},
	}

	assert.Equal(t, "Test validation error", err.Error())
}

func TestIsValidationError(t *testing.T) {
	t.Run("is validation error", func(t *testing.T) {
		err := &ValidationError{
			Message: "test",
			Fields:  map[string]string{},
		}

		assert.True(t, IsValidationError(err))
	})

	t.Run("is not validation error", func(t *testing.T) {
		assert.False(t, IsValidationError(assert.AnError))
	})
}

func TestGetValidationFields(t *testing.T) {
	t.Run("gets fields from validation error", func(t *testing.T) {
		fields := map[string]string{
			"field1": "error1",
			"field2": "error2",
		}
		err := &ValidationError{
			Message: "test",
			Fields:  fields,
		}

		assert.Equal(t, fields, GetValidationFields(err))
	})

	t.Run("returns nil for non-validation error", func(t *testing.T) {
		assert.Nil(t, GetValidationFields(assert.AnError))
	})
}

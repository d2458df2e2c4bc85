package response

import (
	"testing"

	"github.com/go-playground/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOKWithData(t *testing.T) {
	data := map[string]string{"key": "value"}
	resp := OKWithData(data)

	assert.Equal(t, StatusOK, resp.Status)
	assert.Empty(t, resp.Error)
	assert.Equal(t, data, resp.Data)
}

func TestError(t *testing.T) {
	resp := Error("something went wrong")

	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, "something went wrong", resp.Error)
	assert.Nil(t, resp.Data)

	withData := ErrorWithData("taken", []string{"bob1"})
	assert.Equal(t, StatusError, withData.Status)
	assert.Equal(t, []string{"bob1"}, withData.Data)
}

func TestValidationError(t *testing.T) {
	type request struct {
		Username        string `validate:"required,min=3"`
		Email           string `validate:"required,email"`
		Password        string `validate:"required"`
		ConfirmPassword string `validate:"eqfield=Password"`
		Period          string `validate:"oneof=monthly yearly"`
	}

	err := validator.New().Struct(request{
		Username:        "ab",
		Email:           "not-an-email",
		ConfirmPassword: "other",
		Period:          "weekly",
	})
	require.Error(t, err)

	resp := ValidationError(err.(validator.ValidationErrors))
	assert.Equal(t, StatusError, resp.Status)
	assert.Contains(t, resp.Error, "field Username must be at least 3 characters")
	assert.Contains(t, resp.Error, "field Email must be a valid email")
	assert.Contains(t, resp.Error, "field Password is a required field")
	assert.Contains(t, resp.Error, "field ConfirmPassword must match Password")
	assert.Contains(t, resp.Error, "field Period must be one of [monthly yearly]")
}

package validate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type loginInput struct {
	Identifier string `json:"identifier" validate:"notblank,max=254"`
	Password   string `json:"password" validate:"required"`
	Contact    string `json:"contact_email" validate:"omitempty,email"`
	Role       string `json:"role" validate:"omitempty,oneof=admin supervisor user"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(context.Background(), loginInput{Identifier: "   ", Contact: "nope", Role: "root"})
	ve, ok := As(err)
	require.True(t, ok, "expected ValidationError, got %v", err)
	require.Equal(t, map[string]string{
		"identifier":    "is required",
		"password":      "is required",
		"contact_email": "must be a valid email address",
		"role":          "must be one of: admin, supervisor, user",
	}, ve.Fields)
}

func TestStructValidInput(t *testing.T) {
	err := Struct(context.Background(), loginInput{Identifier: "alice", Password: "pw", Contact: "a@example.org"})
	require.NoError(t, err)
}

func TestValidationErrorKeepsFirstMessage(t *testing.T) {
	ve := NewError("comments", "is required")
	ve.Add("comments", "other")
	ve.Merge(NewError("status", "is invalid"))
	require.Equal(t, "is required", ve.Fields["comments"])
	require.Equal(t, "validation failed: comments: is required; status: is invalid", ve.Error())

	wrapped := fmt.Errorf("submit: %w", ve)
	got, ok := As(wrapped)
	require.True(t, ok)
	require.Same(t, ve, got)
}

func TestOrNil(t *testing.T) {
	var ve ValidationError
	require.NoError(t, ve.OrNil())
	_, ok := As(errors.New("plain"))
	require.False(t, ok)
}

func TestEmail(t *testing.T) {
	require.True(t, Email("boss@example.org"))
	require.False(t, Email(""))
	require.False(t, Email("boss"))
}

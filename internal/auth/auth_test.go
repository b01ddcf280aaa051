package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticTokenValidate(t *testing.T) {
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			assert.True(t, errors.Is(err, tc.wantErr), "expected %v, got %v", tc.wantErr, err)
		})
	}
}

func TestBearerToken(t *testing.T) {
	got, err := BearerToken("Bearer  s3cret ")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	got, err = BearerToken("bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	for _, bad := range []string{"", "Bearer", "Bearer   ", "Basic abc", "abc"} {
		_, err := BearerToken(bad)
		assert.ErrorIs(t, err, ErrMissingToken, "header %q", bad)
	}
}

func TestCheckUsesValidator(t *testing.T) {
	var seen string
	v := FuncValidator(func(token string) error {
		seen = token
		if token != "ok" {
			return ErrUnauthorized
		}
		return nil
	})
	assert.NoError(t, Check(v, "Bearer ok"))
	assert.ErrorIs(t, Check(v, "Bearer bad"), ErrUnauthorized)
	assert.Equal(t, "bad", seen)
	assert.ErrorIs(t, Check(v, ""), ErrMissingToken)
}

package validation

import (
	"testing"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	id := uuid.New()

	parsed, err := ParseID(" " + id.String() + " ")
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = ParseID(id.String() + "," + uuid.NewString())
	require.ErrorIs(t, err, ErrMultiValuedID)

	_, err = ParseID("not-a-uuid")
	require.ErrorIs(t, err, ErrInvalidID)
	require.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))

	_, err = ParseID(uuid.Nil.String())
	require.ErrorIs(t, err, ErrInvalidID)
}

func TestEmail(t *testing.T) {
	email, err := Email("  Bob@Example.COM ")
	require.NoError(t, err)
	require.Equal(t, "bob@example.com", email)

	for _, bad := range []string{"", "bob", "bob@localhost", "Bob <bob@example.com>", "a b@example.com"} {
		_, err := Email(bad)
		require.ErrorIs(t, err, ErrInvalidEmail, bad)
	}
}

func TestUsernameAndPassword(t *testing.T) {
	_, err := Username("ab")
	require.ErrorIs(t, err, ErrInvalidUsername)

	name, err := Username(" ada.lovelace ")
	require.NoError(t, err)
	require.Equal(t, "ada.lovelace", name)

	require.ErrorIs(t, Password("short"), ErrWeakPassword)
	require.NoError(t, Password("long-enough"))
}

func TestCode(t *testing.T) {
	code, err := Code(" 012345 ")
	require.NoError(t, err)
	require.Equal(t, "012345", code)

	_, err = Code("12345a")
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestRequired(t *testing.T) {
	_, err := Required("title", "   ", 10)
	require.EqualError(t, err, "title is required")

	_, err = Required("title", "this is far too long", 10)
	require.EqualError(t, err, "title must be at most 10 characters")

	v, err := Required("title", " ok ", 10)
	require.NoError(t, err)
	require.Equal(t, "ok", v)
}

func TestSanitizeText(t *testing.T) {
	require.Equal(t, "Fix login", SanitizeText(`<b>Fix</b> login<script>alert(1)</script>`))
}

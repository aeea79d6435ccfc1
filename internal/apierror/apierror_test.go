package apierror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatsOpKindAndCause(t *testing.T) {
	err := New(KindIO, "gateway.read", errors.New("boom"))
	assert.Equal(t, "gateway.read: io: boom", err.Error())
}

func TestErrorFormatsWithoutCause(t *testing.T) {
	err := New(KindInternal, "engine.transition", nil)
	assert.Equal(t, "engine.transition: internal", err.Error())
}

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	err := New(KindNotSupported, "driver.apply", ErrNotPresent)
	wrapped := fmt.Errorf("outer: %w", err)

	assert.True(t, Is(wrapped, KindNotSupported))
	assert.False(t, Is(wrapped, KindIO))
}

func TestIsFalseForPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), KindIO))
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := New(KindAccessDenied, "authz.check", cause)

	require.ErrorIs(t, err, cause)
}

func TestKindStringCoversEveryVariant(t *testing.T) {
	cases := map[Kind]string{
		KindNotSupported: "not-supported",
		KindInvalidArgs:  "invalid-args",
		KindAccessDenied: "access-denied",
		KindIO:           "io",
		KindInternal:     "internal",
		Kind(99):         "unknown",
	}

	for kind, want := range cases {
		assert.Equal(t, want, kind.String())
	}
}

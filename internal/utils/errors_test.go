package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	t.Run(`message layout`, func(t *testing.T) {
		err := E(CodeNotFound, "CallContext.Get", "call context not found", ErrNotFound)
		require.Equal(t, "CallContext.Get: call context not found: not found", err.Error())
		require.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run(`code survives wrapping`, func(t *testing.T) {
		err := fmt.Errorf("handler: %w", E(CodeTimeout, "op", "slow", nil))
		require.True(t, IsCode(err, CodeTimeout))
		require.Equal(t, http.StatusGatewayTimeout, HTTPStatus(err))
	})

	t.Run(`plain errors`, func(t *testing.T) {
		require.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
		require.Equal(t, http.StatusNotFound, HTTPStatus(fmt.Errorf("x: %w", ErrNotFound)))
	})
}

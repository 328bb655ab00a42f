package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrap_MatchesKind(t *testing.T) {
	err := Wrap(ErrDecodeError, "trade body too short: got %d want %d", 4, 57)
	require.ErrorIs(t, err, ErrDecodeError)
	require.NotErrorIs(t, err, ErrSequenceGap)
	require.Equal(t, "trade body too short: got 4 want 57", err.Error())
}

func TestWrap_SurvivesFurtherWrapping(t *testing.T) {
	err := fmt.Errorf("load config: %w", Wrap(ErrConfigError, "tick_size must be > 0"))
	require.True(t, errors.Is(err, ErrConfigError))
}

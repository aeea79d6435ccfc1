package osexec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReportsExitCode(t *testing.T) {
	code, err := Run(context.Background(), "bash", []string{"-c", "exit 0"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	code, err = Run(context.Background(), "bash", []string{"-c", "exit 7"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, code)
}

func TestRunPassesEnv(t *testing.T) {
	code, err := Run(
		context.Background(),
		"bash",
		[]string{"-c", `[ "$VAR1" = "1" ] && [ "$VAR2" = "2" ]`},
		[]string{"VAR1=1", "VAR2=2"},
	)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestRunLaunchFailureReturnsError(t *testing.T) {
	_, err := Run(context.Background(), "no-such-binary-surely", nil, nil)
	require.Error(t, err)
}

func TestRunContextCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := Run(ctx, "sleep", []string{"5"}, nil)
	require.Error(t, err)
}

package utils

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorChain(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapError(ErrCodeBlockchain, "failed to fetch logs", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeBlockchain, ErrorCode(err))
	assert.Equal(t, "BLOCKCHAIN_ERROR: failed to fetch logs (connection reset)", err.Error())
	assert.NotEmpty(t, err.File)

	wrapped := fmt.Errorf("tick: %w", err)
	assert.Equal(t, ErrCodeBlockchain, ErrorCode(wrapped))
	assert.Equal(t, "", ErrorCode(cause))
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
		transient bool
	}{
		{"nil", nil, false, false},
		{"plain", errors.New("boom"), false, true},
		{"blockchain", NewAppError(ErrCodeBlockchain, "rpc"), false, true},
		{"validation", NewAppError(ErrCodeValidation, "bad event"), true, false},
		{"not found", NewAppError(ErrCodeNotFound, "pool"), true, false},
		{"configuration", NewAppError(ErrCodeConfiguration, "missing url"), true, false},
		{"validation under external", WrapError(ErrCodeExternal, "send", NewAppError(ErrCodeValidation, "body")), true, false},
		{"canceled", context.Canceled, false, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.permanent, IsPermanent(tt.err))
			assert.Equal(t, tt.transient, IsTransient(tt.err))
		})
	}
}

func TestAddressHelpers(t *testing.T) {
	assert.True(t, IsValidAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984"))
	assert.False(t, IsValidAddress("0x1234"))

	assert.Equal(t, "0x1f98431c8ad98523631ae4a59f267346ea31f984", NormalizeAddress(" 1F98431c8aD98523631AE4a59f267346ea31F984 "))
	assert.Equal(t, "0xabc", NormalizeAddress("0XABC"))

	assert.True(t, IsZeroAddress(""))
	assert.True(t, IsZeroAddress("0x0000000000000000000000000000000000000000"))
	assert.False(t, IsZeroAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984"))
}

func TestFormatFeeTier(t *testing.T) {
	assert.Equal(t, "0.05%", FormatFeeTier(500))
	assert.Equal(t, "0.30%", FormatFeeTier(3000))
	assert.Equal(t, "1.00%", FormatFeeTier(10000))
}

func TestParseBlockNumber(t *testing.T) {
	n, err := ParseBlockNumber(" 19000000 ")
	require.NoError(t, err)
	assert.Equal(t, uint64(19000000), n)

	n, err = ParseBlockNumber("0x10")
	require.NoError(t, err)
	assert.Equal(t, uint64(16), n)

	for _, bad := range []string{"", "latest", "-5", "0x"} {
		_, err := ParseBlockNumber(bad)
		assert.Error(t, err, bad)
	}
}

func TestInitLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "listener.log")
	require.NoError(t, InitLogger("debug", "json", "file", path))
	assert.Equal(t, "debug", GetLogger().GetLevel().String())

	assert.Error(t, InitLogger("loud", "text", "stdout", ""))
	require.NoError(t, InitLogger("error", "text", "stdout", ""))
}

package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmanError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("connection refused")

	// When: wrapping with AmanError
	amanErr := New(ErrCodeNetworkUnavailable, "ollama unreachable", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, amanErr)
	assert.Equal(t, originalErr, errors.Unwrap(amanErr))
	assert.True(t, errors.Is(amanErr, originalErr))
}

func TestAmanError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{"config", ErrCodeConfigNotFound, "config file not found", "[ERR_101_CONFIG_NOT_FOUND] config file not found"},
		{"empty query", ErrCodeQueryEmpty, "question is empty", "[ERR_404_QUERY_EMPTY] question is empty"},
		{"index", ErrCodeIndexFailed, "index build failed", "[ERR_505_INDEX_FAILED] index build failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, New(tt.code, tt.message, nil).Error())
		})
	}
}

func TestAmanError_Is_MatchesByCode(t *testing.T) {
	err1 := New(ErrCodeIndexFailed, "keyword build failed", nil)
	sentinel := New(ErrCodeIndexFailed, "", nil)

	assert.True(t, errors.Is(err1, sentinel))
	assert.False(t, errors.Is(err1, New(ErrCodeSearchFailed, "", nil)))
}

func TestAmanError_Is_ThroughFmtWrapping(t *testing.T) {
	inner := New(ErrCodeQueryEmpty, "question is empty", nil)
	wrapped := fmt.Errorf("handling request: %w", inner)

	assert.True(t, errors.Is(wrapped, New(ErrCodeQueryEmpty, "", nil)))
	assert.Equal(t, ErrCodeQueryEmpty, GetCode(wrapped))
	assert.Equal(t, CategoryValidation, GetCategory(wrapped))
}

func TestAmanError_DetailsAndSuggestion(t *testing.T) {
	err := New(ErrCodeUnsupportedFile, "unsupported file", nil).
		WithDetail("path", "/docs/report.docx").
		WithSuggestion("convert the file to PDF or text")

	assert.Equal(t, "/docs/report.docx", err.Details["path"])
	assert.Equal(t, "convert the file to PDF or text", err.Suggestion)
}

func TestAmanError_CategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeFileNotFound, CategoryIO},
		{ErrCodeCorpusLocked, CategoryIO},
		{ErrCodeGeneratorUnavailable, CategoryNetwork},
		{ErrCodeQueryEmpty, CategoryValidation},
		{ErrCodeInvalidSearchType, CategoryValidation},
		{ErrCodeIndexFailed, CategoryInternal},
		{"BAD", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.wantCategory, New(tt.code, "msg", nil).Category)
		})
	}
}

func TestAmanError_SeverityAndRetryable(t *testing.T) {
	tests := []struct {
		code          string
		wantSeverity  Severity
		wantRetryable bool
	}{
		{ErrCodeCorruptCorpus, SeverityFatal, false},
		{ErrCodeDiskFull, SeverityFatal, false},
		{ErrCodeNetworkTimeout, SeverityWarning, true},
		{ErrCodeRateLimited, SeverityWarning, true},
		{ErrCodeCorpusLocked, SeverityWarning, true},
		{ErrCodeQueryEmpty, SeverityError, false},
		{ErrCodeGenerationFailed, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
			assert.Equal(t, tt.wantRetryable, IsRetryable(err))
			assert.Equal(t, tt.wantSeverity == SeverityFatal, IsFatal(err))
		})
	}
}

func TestWrap(t *testing.T) {
	original := errors.New("something went wrong")
	wrapped := Wrap(ErrCodeInternal, original)

	require.NotNil(t, wrapped)
	assert.Equal(t, "something went wrong", wrapped.Message)
	assert.Equal(t, original, wrapped.Cause)
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestHelpers_PlainErrors(t *testing.T) {
	plain := errors.New("plain")
	assert.Empty(t, GetCode(plain))
	assert.Empty(t, GetCategory(plain))
	assert.False(t, IsRetryable(plain))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsFatal(plain))
}

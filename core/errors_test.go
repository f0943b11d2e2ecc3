package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	notFound := NewAgentNotFoundError("agent-1")
	assert.Equal(t, KindNotFound, notFound.Kind)
	assert.Equal(t, "agent-1", notFound.AgentID)
	assert.False(t, notFound.Retryable)
	assert.Contains(t, notFound.Error(), "agent-1")

	unavailable := NewAgentUnavailableError("agent-2", StatusInactive)
	assert.Equal(t, KindUnavailable, unavailable.Kind)
	assert.Contains(t, unavailable.Error(), "inactive")

	unsupported := NewUnsupportedMethodError("agent-3", "mystery")
	assert.Equal(t, KindUnsupportedMethod, unsupported.Kind)
	assert.Contains(t, unsupported.Error(), "mystery")
}

func TestTimeoutErrorIsRetryable(t *testing.T) {
	err := NewTimeoutError("send", 50*time.Millisecond)
	assert.True(t, err.Retryable)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestExecutionErrorWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	err := NewExecutionError("agent-1", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindExecution, KindOf(err))
	assert.Equal(t, "agent-1", err.AgentID)
}

func TestKindOfWrappedError(t *testing.T) {
	inner := NewQueueFullError(10)
	wrapped := fmt.Errorf("send failed: %w", inner)

	assert.Equal(t, KindQueueFull, KindOf(wrapped))
	assert.True(t, IsRetryable(wrapped))
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("opaque")))
	assert.False(t, IsRetryable(errors.New("opaque")))
	assert.False(t, IsRetryable(nil))
}

func TestWithDetail(t *testing.T) {
	err := NewRateLimitError("client-9", "api").WithDetail("window", "1m")
	assert.Equal(t, "api", err.Details["class"])
	assert.Equal(t, "1m", err.Details["window"])
}

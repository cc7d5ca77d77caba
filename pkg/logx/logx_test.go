package logx

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_BuffersEntries(t *testing.T) {
	logger := NewLogger("testcomp")
	logger.Info("hello %s", "world")

	got := RecentEntries("testcomp", time.Time{})
	require.NotEmpty(t, got)

	last := got[len(got)-1]
	assert.Equal(t, "testcomp", last.Component)
	assert.Equal(t, "INFO", last.Level)
	assert.Equal(t, "hello world", last.Message)
}

func TestRecentEntries_FiltersByComponent(t *testing.T) {
	NewLogger("compA").Info("a line")
	NewLogger("compB").Info("b line")

	for _, e := range RecentEntries("compA", time.Time{}) {
		assert.Equal(t, "compA", e.Component)
	}
}

func TestDebug_DisabledByDefault(t *testing.T) {
	SetDebug(false, nil)
	logger := NewLogger("quiet")
	before := len(RecentEntries("quiet", time.Time{}))
	logger.Debug("should not appear")
	assert.Equal(t, before, len(RecentEntries("quiet", time.Time{})))
}

func TestDebug_DomainFiltering(t *testing.T) {
	SetDebug(true, []string{"loud"})
	defer SetDebug(false, nil)

	NewLogger("loud").Debug("appears")
	NewLogger("other").Debug("filtered")

	loud := RecentEntries("loud", time.Time{})
	require.NotEmpty(t, loud)
	assert.Equal(t, "appears", loud[len(loud)-1].Message)
	for _, e := range RecentEntries("other", time.Time{}) {
		assert.NotEqual(t, "filtered", e.Message)
	}
}

func TestWrap(t *testing.T) {
	base := errors.New("boom")
	wrapped := Wrap(base, "staging")
	require.Error(t, wrapped)
	assert.True(t, errors.Is(wrapped, base))
	assert.Contains(t, wrapped.Error(), "staging")

	assert.NoError(t, Wrap(nil, "ignored"))
}

func TestErrorf(t *testing.T) {
	base := errors.New("boom")
	err := Errorf("wrapping: %w", base)
	require.Error(t, err)
	assert.True(t, errors.Is(err, base))
}

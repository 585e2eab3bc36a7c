package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusQueued, StatusProcessing, true},
		{StatusQueued, StatusCancelled, true},
		{StatusQueued, StatusCompleted, false},
		{StatusQueued, StatusFailed, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusProcessing, StatusQueued, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusFailed, StatusProcessing, false},
		{StatusCancelled, StatusQueued, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, canTransition(tt.from, tt.to))
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, Status("unknown").Valid())
}

func TestClampProgress(t *testing.T) {
	assert.Equal(t, 0.0, clampProgress(-1))
	assert.Equal(t, 0.25, clampProgress(0.25))
	assert.Equal(t, 1.0, clampProgress(3))
	var zero float64
	assert.Equal(t, 0.0, clampProgress(zero/zero))
}

func TestRecord_View(t *testing.T) {
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	record := &Record{
		JobID:         "job-1",
		Status:        StatusProcessing,
		Progress:      0.6,
		TotalPages:    intPtr(12),
		Message:       "page 7",
		CreatedAt:     created,
		Filename:      "a.pdf",
		OutputFormat:  "json",
		OutputContent: "not exposed",
	}

	view := record.View()

	assert.Equal(t, "job-1", view.JobID)
	assert.Equal(t, StatusProcessing, view.Status)
	assert.Nil(t, view.CurrentPage)
	require.NotNil(t, view.TotalPages)
	assert.Equal(t, 12, *view.TotalPages)
	assert.Nil(t, view.Error)
	assert.Equal(t, "json", view.OutputFormat)
}

func TestRecord_ResultView(t *testing.T) {
	t.Run("not terminal", func(t *testing.T) {
		_, ok := (&Record{Status: StatusProcessing}).ResultView()
		assert.False(t, ok)
	})

	t.Run("completed", func(t *testing.T) {
		view, ok := (&Record{JobID: "j", Status: StatusCompleted, OutputContent: "<html/>", PageCount: intPtr(2)}).ResultView()

		require.True(t, ok)
		assert.True(t, view.Success)
		require.NotNil(t, view.OutputContent)
		assert.Equal(t, "<html/>", *view.OutputContent)
		assert.Equal(t, 2, *view.PageCount)
		assert.Nil(t, view.Error)
	})

	t.Run("failed", func(t *testing.T) {
		view, ok := (&Record{JobID: "j", Status: StatusFailed, Error: "bad input"}).ResultView()

		require.True(t, ok)
		assert.False(t, view.Success)
		assert.Nil(t, view.OutputContent)
		require.NotNil(t, view.Error)
		assert.Equal(t, "bad input", *view.Error)
	})

	t.Run("cancelled", func(t *testing.T) {
		view, ok := (&Record{JobID: "j", Status: StatusCancelled, Message: messageCancelled}).ResultView()

		require.True(t, ok)
		assert.False(t, view.Success)
		require.NotNil(t, view.Error)
		assert.Equal(t, messageCancelled, *view.Error)
	})
}

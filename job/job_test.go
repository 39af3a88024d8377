package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRemainingTime(t *testing.T) {
	cases := []struct {
		seconds int
		want    string
	}{
		{0, "0s"},
		{30, "30s"},
		{59, "59s"},
		{60, "1m 0s"},
		{125, "2m 5s"},
		{-3, "0s"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatRemainingTime(tc.seconds), "seconds=%d", tc.seconds)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestInitialProgress(t *testing.T) {
	p := InitialProgress(30)
	require.NotNil(t, p.EstimatedRemainingSeconds)
	assert.Equal(t, 0.0, p.Percent)
	assert.Equal(t, 0, p.CurrentStep)
	assert.Equal(t, 5, p.TotalSteps)
	assert.Equal(t, "Starting processing...", p.Message)
	assert.Equal(t, 30, *p.EstimatedRemainingSeconds)
	assert.Equal(t, "30s", p.FormattedRemainingTime)
}

func TestUploadResponseEstimate(t *testing.T) {
	assert.Equal(t, 30, UploadResponse{EstimatedSeconds: 30}.EstimatedWholeSeconds())
	assert.Equal(t, 46, UploadResponse{EstimatedSeconds: 45.6}.EstimatedWholeSeconds())
	assert.Equal(t, 0, UploadResponse{}.EstimatedWholeSeconds())
}

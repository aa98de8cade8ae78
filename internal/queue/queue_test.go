package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricespy/internal/tracker"
)

func TestDecodeTask(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    tracker.AcquisitionTask
		wantErr bool
	}{
		{name: "bare id", payload: " 42\n", want: tracker.AcquisitionTask{ProductID: 42}},
		{name: "json", payload: `{"product_id":7,"attempt":2}`, want: tracker.AcquisitionTask{ProductID: 7, Attempt: 2}},
		{name: "zero id", payload: "0", wantErr: true},
		{name: "json without id", payload: `{"attempt":1}`, wantErr: true},
		{name: "garbage", payload: "not-a-task", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeTask([]byte(tc.payload))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEncodeTaskKeepsEnqueueTime(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	payload, err := EncodeTask(tracker.AcquisitionTask{ProductID: 9, EnqueuedAt: at})
	require.NoError(t, err)

	got, err := DecodeTask(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(9), got.ProductID)
	assert.True(t, at.Equal(got.EnqueuedAt))
}

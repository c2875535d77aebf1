package tally

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLines(t *testing.T) {
	testCases := []struct {
		name  string
		point *point
		want  string
	}{
		{
			name:  "tags sorted by key",
			point: newPoint("request").tag("source", "svc").tag("method", "all").intField("total", 12),
			want:  "request,method=all,source=svc total=12",
		},
		{
			name:  "float field",
			point: newPoint("system").tag("source", "svc").floatField("CPU", 12.5),
			want:  "system,source=svc CPU=12.5",
		},
		{
			name:  "counts carry no integer suffix",
			point: newPoint("activeUsers").intField("numActiveUsers", 3),
			want:  "activeUsers numActiveUsers=3",
		},
		{
			name:  "empty tag value skipped",
			point: newPoint("auth").tag("source", "").intField("Pass", 1),
			want:  "auth Pass=1",
		},
		{
			name:  "escaping",
			point: newPoint("my metric,x").tag("source", "a b=c").floatField("HQ-delay", 0.25),
			want:  `my\ metric\,x,source=a\ b\=c HQ-delay=0.25`,
		},
		{
			name:  "multiple fields",
			point: newPoint("sales").intField("a", 1).intField("b", -2),
			want:  "sales a=1,b=-2",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			lines, err := encodeLines(tc.point)
			require.NoError(t, err)
			assert.Equal(t, []string{tc.want}, lines)
		})
	}
}

func TestEncodeLines_Rejects(t *testing.T) {
	testCases := []struct {
		name  string
		point *point
	}{
		{name: "NaN", point: newPoint("sales").floatField("totalRevenue", math.NaN())},
		{name: "positive infinity", point: newPoint("sales").floatField("totalRevenue", math.Inf(1))},
		{name: "negative infinity", point: newPoint("latency").floatField("HQ-delay", math.Inf(-1))},
		{name: "no fields", point: newPoint("sales").tag("source", "svc")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ok := newPoint("auth").intField("Pass", 1)
			lines, err := encodeLines(ok, tc.point)
			assert.Error(t, err)
			assert.Nil(t, lines)
		})
	}
}

func TestStore_FlushSkipsUnencodableLines(t *testing.T) {
	pusher := &recordingPusher{}
	store := newTestStore(pusher)
	// Each amount is finite; their sum overflows.
	require.NoError(t, store.NoteSale(1, true, math.MaxFloat64, 0, 0))
	require.NoError(t, store.NoteSale(1, true, math.MaxFloat64, 0, 0))

	err := store.FlushSales(context.Background())
	require.Error(t, err)
	assert.Empty(t, pusher.Lines())
}

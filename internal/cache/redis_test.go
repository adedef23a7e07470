package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowscope/internal/models"
)

func newTestRecorder(t *testing.T, limit int64) (*RedisRecorder, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rec, err := NewRedisRecorder(context.Background(), mr.Addr(), "", 0, "sess", limit)
	require.NoError(t, err)
	t.Cleanup(func() { rec.Close() })
	return rec, mr
}

func TestNewRedisRecorder_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Port 1 is reserved and never has a Redis listening
	rec, err := NewRedisRecorder(ctx, "127.0.0.1:1", "", 0, "sess", 10)
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestSamplesKey(t *testing.T) {
	r := &RedisRecorder{session: "abc"}
	assert.Equal(t, "flowscope:samples:abc", r.samplesKey())
}

func TestRecordSample_TrimsToLimit(t *testing.T) {
	rec, mr := newTestRecorder(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, rec.RecordSample(ctx, models.Sample{T: float64(i), Value: float64(i * 10)}))
	}

	stored, err := mr.List("flowscope:samples:sess")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	assert.Equal(t, SamplesTTL, mr.TTL("flowscope:samples:sess"))

	members, err := mr.Members(SessionsKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"sess"}, members)

	accepted, err := rec.Accepted(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, accepted)
}

func TestLatestSamples_TimeOrder(t *testing.T) {
	rec, _ := newTestRecorder(t, 10)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, rec.RecordSample(ctx, models.Sample{T: float64(i), Value: float64(i) + 0.5}))
	}

	got, err := rec.LatestSamples(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []models.Sample{{T: 2, Value: 2.5}, {T: 3, Value: 3.5}}, got)

	all, err := rec.LatestSamples(ctx, 100)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, 0.0, all[0].T)
}

func TestLatestSamples_SkipsCorruptEntries(t *testing.T) {
	rec, mr := newTestRecorder(t, 10)
	ctx := context.Background()

	require.NoError(t, rec.RecordSample(ctx, models.Sample{T: 1, Value: 1}))
	_, err := mr.Lpush("flowscope:samples:sess", "{not json")
	require.NoError(t, err)
	require.NoError(t, rec.RecordSample(ctx, models.Sample{T: 2, Value: 2}))

	got, err := rec.LatestSamples(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []models.Sample{{T: 1, Value: 1}, {T: 2, Value: 2}}, got)
}

func TestAccepted_NoSamples(t *testing.T) {
	rec, _ := newTestRecorder(t, 10)
	n, err := rec.Accepted(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
	assert.NoError(t, rec.Ping(context.Background()))
}

package observability

import (
	"testing"
	"time"

	"github.com/danmuck/groundctl/internal/protocol/dialect"
	"github.com/danmuck/groundctl/internal/pubsub"
	"github.com/danmuck/groundctl/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("GET", "/health", 200, 12*time.Millisecond)
	RecordLinkError("tcp", "receive")
	RecordStateTransition("connected")
	RecordSetAttempt("ack")
	ObserveSyncDuration(1500*time.Millisecond, true)
}

func TestFrameCountersUseMessageNames(t *testing.T) {
	testlog.Start(t)
	before := testutil.ToFloat64(framesRx.WithLabelValues("PARAM_VALUE"))
	RecordFrameRx(dialect.MsgParamValue)
	RecordFrameRx(dialect.MsgParamValue)
	assert.Equal(t, before+2, testutil.ToFloat64(framesRx.WithLabelValues("PARAM_VALUE")))

	RecordFrameTx(9999)
	assert.Equal(t, float64(1), testutil.ToFloat64(framesTx.WithLabelValues("MSG_9999")))

	rerequests := testutil.ToFloat64(paramRerequests)
	RecordParamRerequests(3)
	assert.Equal(t, rerequests+3, testutil.ToFloat64(paramRerequests))
}

func TestStreamDropsCountsSlowSubscriberLosses(t *testing.T) {
	testlog.Start(t)
	counter := streamDrops.WithLabelValues("test_stream")
	before := testutil.ToFloat64(counter)

	b := pubsub.New[int](1, false).OnDrop(StreamDrops("test_stream"))
	ch, cancel := b.Subscribe()
	defer cancel()
	for i := 0; i < 4; i++ {
		b.Publish(i)
	}
	assert.Equal(t, 3, <-ch)
	assert.Equal(t, before+3, testutil.ToFloat64(counter))
}

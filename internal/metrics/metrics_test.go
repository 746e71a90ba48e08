package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakePublisher) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestInvocation_NilSafeIncrements(t *testing.T) {
	var inv *Invocation
	assert.NotPanics(t, func() {
		inv.IncLocalHit()
		inv.IncRemoteCall()
		inv.IncFallback()
	})
}

func TestReporter_FlushSendsFixedMeasurements(t *testing.T) {
	pub := &fakePublisher{}
	r := NewReporter(pub, "AuditEnrich", "fn")

	inv := NewInvocation(time.Now().Add(-150 * time.Millisecond))
	Add(&inv.EventsProcessed, 9)
	Add(&inv.EventsFailed, 1)
	inv.IncRemoteCall()
	inv.Finish(time.Now())

	r.Flush(context.Background(), inv)

	require.Len(t, pub.inputs, 1)
	in := pub.inputs[0]
	assert.Equal(t, "AuditEnrich", aws.ToString(in.Namespace))
	assert.Len(t, in.MetricData, len(measurements(Invocation{})))

	byName := map[string]types.MetricDatum{}
	for _, d := range in.MetricData {
		byName[aws.ToString(d.MetricName)] = d
		require.Len(t, d.Dimensions, 1)
		assert.Equal(t, "fn", aws.ToString(d.Dimensions[0].Value))
	}
	assert.Equal(t, 9.0, aws.ToFloat64(byName["EventsProcessed"].Value))
	assert.Equal(t, 1.0, aws.ToFloat64(byName["EventsFailed"].Value))
	assert.Equal(t, 1.0, aws.ToFloat64(byName["RemoteDirectoryCalls"].Value))
	assert.Equal(t, types.StandardUnitMilliseconds, byName["ProcessingTime"].Unit)
	assert.GreaterOrEqual(t, aws.ToFloat64(byName["ProcessingTime"].Value), 150.0)
}

func TestReporter_FlushSwallowsErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("throttled")}
	r := NewReporter(pub, "ns", "fn")

	assert.NotPanics(t, func() {
		r.Flush(context.Background(), NewInvocation(time.Now()))
	})
	assert.Len(t, pub.inputs, 1)
}

func TestReporter_FlushWithCancelledContext(t *testing.T) {
	pub := &fakePublisher{}
	r := NewReporter(pub, "ns", "fn")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Flush(ctx, NewInvocation(time.Now()))

	assert.Len(t, pub.inputs, 1)
}

func TestMetrics_AbsorbAndString(t *testing.T) {
	m := New()
	m.Absorb(Invocation{EventsProcessed: 3, EventsFailed: 1, RemoteCalls: 2}, false)
	m.Absorb(Invocation{EventsProcessed: 1}, true)

	out := m.String()
	assert.True(t, strings.Contains(out, "invocations_total=2\n"))
	assert.True(t, strings.Contains(out, "invocations_failed_total=1\n"))
	assert.True(t, strings.Contains(out, "events_processed_total=4\n"))
	assert.True(t, strings.Contains(out, "remote_calls_total=2\n"))
}

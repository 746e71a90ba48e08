package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/rs/zerolog/log"
)

// Publisher 는 cloudwatch.Client 중 Reporter 가 쓰는 부분.
type Publisher interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Reporter
//
// invocation 카운터를 고정된 이름/단위의 CloudWatch 지표로 변환해 한 번에 전송한다.
// 전송 실패는 로그만 남기고 삼킨다. 지표 전송 실패가 색인 결과를 바꾸면 안 된다.
type Reporter struct {
	api        Publisher
	namespace  string
	dimensions []types.Dimension
	timeout    time.Duration
}

func NewReporter(api Publisher, namespace, functionName string) *Reporter {
	return &Reporter{
		api:       api,
		namespace: namespace,
		dimensions: []types.Dimension{
			{Name: aws.String("FunctionName"), Value: aws.String(functionName)},
		},
		timeout: 3 * time.Second,
	}
}

// Flush 는 invocation 당 한 번 호출된다.
// 호출자 ctx 가 이미 만료됐더라도 전송은 시도하도록 cancel 을 끊고 자체 timeout 을 건다.
func (r *Reporter) Flush(ctx context.Context, inv *Invocation) {
	if r == nil || r.api == nil || inv == nil {
		return
	}

	snap := inv.Snapshot()
	data := r.datums(snap, time.Now().UTC())

	ctx2, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	_, err := r.api.PutMetricData(ctx2, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(r.namespace),
		MetricData: data,
	})
	if err != nil {
		log.Warn().Err(err).Str("namespace", r.namespace).Msg("metrics flush failed")
		return
	}
	log.Debug().Int("datums", len(data)).Msg("metrics flushed")
}

type measurement struct {
	name  string
	unit  types.StandardUnit
	value int64
}

// measurements 는 전송되는 지표의 고정 목록. 이름을 바꾸면 대시보드/알람도 같이 바꿔야 한다.
func measurements(s Invocation) []measurement {
	return []measurement{
		{"EventsProcessed", types.StandardUnitCount, s.EventsProcessed},
		{"EventsFailed", types.StandardUnitCount, s.EventsFailed},
		{"DocumentsIndexed", types.StandardUnitCount, s.DocumentsIndexed},
		{"AccountsEnriched", types.StandardUnitCount, s.AccountsEnriched},
		{"LocalCacheHits", types.StandardUnitCount, s.LocalCacheHits},
		{"LocalCacheMisses", types.StandardUnitCount, s.LocalCacheMisses},
		{"DurableCacheHits", types.StandardUnitCount, s.DurableCacheHits},
		{"DurableCacheMisses", types.StandardUnitCount, s.DurableCacheMisses},
		{"RemoteDirectoryCalls", types.StandardUnitCount, s.RemoteCalls},
		{"EnrichmentFallbacks", types.StandardUnitCount, s.Fallbacks},
		{"BulkRetries", types.StandardUnitCount, s.BulkRetries},
		{"DeadLetteredDocuments", types.StandardUnitCount, s.DeadLettered},
		{"ProcessingTime", types.StandardUnitMilliseconds, s.ProcessingTime},
	}
}

func (r *Reporter) datums(s Invocation, ts time.Time) []types.MetricDatum {
	ms := measurements(s)
	out := make([]types.MetricDatum, 0, len(ms))
	for _, m := range ms {
		out = append(out, types.MetricDatum{
			MetricName: aws.String(m.name),
			Unit:       m.unit,
			Value:      aws.Float64(float64(m.value)),
			Timestamp:  aws.Time(ts),
			Dimensions: r.dimensions,
		})
	}
	return out
}

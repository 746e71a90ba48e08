package main

import (
	"context"

	"audit-enrich/internal/config"
	"audit-enrich/internal/logger"
	"audit-enrich/internal/metrics"
	"audit-enrich/internal/model"
	"audit-enrich/internal/pipeline"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/rs/zerolog/log"
)

func main() {

	// ====================================================================
	// Cold start 초기화
	// ====================================================================
	//
	// Config / Logger / AWS 클라이언트 / 로컬 계정 캐시는 cold start 에 한 번만 만들고
	// warm invocation 이 재사용한다. 로컬 캐시 hit 가 Organizations 호출 비용을 줄이는 핵심.
	//
	// 설정 오류는 fail-fast (Lambda 가 init error 로 보고).
	// ====================================================================
	cfg := config.Load()
	logger.Init(cfg)

	proc, err := pipeline.NewFromConfig(context.Background(), cfg, metrics.New())
	if err != nil {
		log.Fatal().Err(err).Msg("pipeline init failed")
	}

	// ====================================================================
	// Handler
	// ====================================================================
	//
	// CloudWatch Logs subscription 은 handler 가 에러를 반환하면 같은 배치를 재시도한다.
	// 실패는 Summary 로만 표현하고 error 는 절대 반환하지 않는다.
	// (재전송돼도 문서 ID 가 같아 덮어쓰기이지만 재시도 폭주는 막아야 한다)
	// ====================================================================
	lambda.Start(func(ctx context.Context, ev events.CloudwatchLogsEvent) (model.Summary, error) {
		requestID := ""
		if lc, ok := lambdacontext.FromContext(ctx); ok {
			requestID = lc.AwsRequestID
		}
		return proc.Process(ctx, ev, requestID), nil
	})
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"audit-enrich/internal/config"
	"audit-enrich/internal/logger"
	"audit-enrich/internal/metrics"
	"audit-enrich/internal/pipeline"
	"audit-enrich/internal/server"

	"github.com/rs/zerolog/log"
)

func main() {

	// ====================================================================
	// CPU 설정 (Fargate vCPU 특성 대응)
	// ====================================================================
	//
	// Fargate 는 vCPU 단위로 CPU share 가 제한되는데 Go 런타임은 호스트 코어 수만큼
	// GOMAXPROCS 를 잡는다. Task Definition 의 GOMAXPROCS 로 재정의 가능, 기본 1.
	// ====================================================================
	if v := os.Getenv("GOMAXPROCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			runtime.GOMAXPROCS(n)
		}
	} else {
		runtime.GOMAXPROCS(1)
	}

	// ====================================================================
	// Config & Metrics & Pipeline 초기화
	// ====================================================================
	//
	// Lambda 와 같은 pipeline 을 그대로 쓴다. 차이는 입력 경로(POST /ingest)뿐.
	// Metrics 는 /metrics 로 노출되는 프로세스 누적 카운터.
	// ====================================================================
	cfg := config.Load()
	logger.Init(cfg)
	m := metrics.New()

	proc, err := pipeline.NewFromConfig(context.Background(), cfg, m)
	if err != nil {
		log.Fatal().Err(err).Msg("pipeline init failed")
	}

	// ====================================================================
	// HTTP Handler 설정
	// ====================================================================
	//
	//  - /ingest  : CloudWatch Logs subscription 이벤트 1건 동기 처리
	//  - /metrics : 운영 지표 확인
	//  - /health  : ALB Target Group health check
	// ====================================================================
	h := server.NewHandler(cfg, m, proc)

	mux := http.NewServeMux()
	mux.HandleFunc("/ingest", h.HandleIngest)
	mux.HandleFunc("/metrics", h.HandleMetrics)
	mux.HandleFunc("/health", h.HandleHealth)

	// ====================================================================
	// HTTP 서버 설정
	// ====================================================================
	//
	// WriteTimeout 은 요청 처리 예산(RequestTimeout) 보다 길어야
	// bulk retry 중인 요청의 응답이 끊기지 않는다.
	// ====================================================================
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ====================================================================
	// Graceful Shutdown (ECS/Fargate scale-in 대응)
	// ====================================================================
	//
	// SIGTERM 수신 시 새 요청을 받지 않고 처리 중인 배치가 끝날 때까지 기다린다.
	// 처리 중 배치는 bulk 가 끝나야 응답하므로 RequestTimeout 만큼 기다려 준다.
	// ====================================================================
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("audit-enrich server listening")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server terminated")
	}

	<-done
	log.Info().Str("metrics", m.String()).Msg("shutdown complete")
}

package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"audit-enrich/internal/config"
	"audit-enrich/internal/metrics"
	"audit-enrich/internal/model"
	"audit-enrich/internal/pool"

	"github.com/aws/aws-lambda-go/events"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Processor 는 배치 1개를 처리하고 Summary 를 돌려준다. (pipeline.Processor)
type Processor interface {
	Process(ctx context.Context, ev events.CloudwatchLogsEvent, requestID string) model.Summary
}

type Handler struct {
	cfg       config.Config
	metrics   *metrics.Metrics
	processor Processor
}

func NewHandler(cfg config.Config, m *metrics.Metrics, p Processor) *Handler {
	return &Handler{
		cfg:       cfg,
		metrics:   m,
		processor: p,
	}
}

// HandleIngest
//
// POST /ingest. body 는 Lambda 가 받는 것과 같은 CloudWatch Logs subscription 이벤트 JSON
// ({"awslogs":{"data":"<base64 gzip>"}}).
//
// 공통 동작:
//  1. 요청 길이 제한(MaxBodySize)
//  2. BodyPool 기반 메모리 재사용
//  3. 요청당 처리 예산(RequestTimeout) 안에서 pipeline 동기 실행
//  4. Summary 를 JSON 으로 응답
//
// status:
//   - 200: 성공 (부분 bulk 실패 포함)
//   - 400: body 가 이벤트 JSON 이 아니거나 envelope 손상(DecodeError)
//   - 413: body 초과
//   - 502: bulk 전송 retry 소진(SubmitError)
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	atomic.AddInt64(&h.metrics.HTTPRequestsTotal, 1)

	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-Id", requestID)

	// --------------------------------------------------------------------
	// 요청 Body 최대 크기 강제 제한
	// --------------------------------------------------------------------
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodySize)
	defer r.Body.Close()

	buf := pool.BodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBody(buf, h.cfg.MaxBodySize*2)

	if _, err := io.Copy(buf, r.Body); err != nil {
		atomic.AddInt64(&h.metrics.HTTPRequestsRejectedBodyTooLargeTotal, 1)
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	var ev events.CloudwatchLogsEvent
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil || ev.AWSLogs.Data == "" {
		atomic.AddInt64(&h.metrics.HTTPRequestsRejectedBadRequestTotal, 1)
		log.Warn().Err(err).
			Str("request_id", requestID).
			Str("remote_ip", clientIP(r)).
			Msg("ingest body is not a subscription event")
		http.Error(w, "body must be a CloudWatch Logs subscription event", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout())
	defer cancel()

	sum := h.processor.Process(ctx, ev, requestID)

	status := http.StatusOK
	switch sum.ErrorType {
	case model.ErrorTypeDecode:
		status = http.StatusBadRequest
	case model.ErrorTypeSubmit:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, sum)
}

// HandleMetrics
//
// 프로세스 누적 카운터를 text 로 출력한다.
func (h *Handler) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, h.metrics.String())
}

// HandleHealth: ALB target group health check 용.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) requestTimeout() time.Duration {
	if h.cfg.RequestTimeout > 0 {
		return h.cfg.RequestTimeout
	}
	return 60 * time.Second
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 프로세스 수명 동안 누적되는 카운터 모음이다.
// invocation 단위 카운터(Invocation)는 invocation 이 끝날 때 Absorb 로 여기에 합산된다.
// server 모드의 /metrics 엔드포인트가 String() 결과를 그대로 내보낸다.
type Metrics struct {
	// ======================
	// invocation 레벨
	// ======================

	// InvocationsTotal
	// - 처리한 배치(invocation) 수. CONTROL_MESSAGE 도 1로 센다.
	InvocationsTotal int64

	// InvocationsFailedTotal
	// - envelope decode 실패 또는 bulk 전송 retry 소진으로 error summary 를 반환한 수.
	InvocationsFailedTotal int64

	// ======================
	// 레코드 / 문서 레벨
	// ======================

	EventsProcessedTotal  int64
	EventsFailedTotal     int64
	DocumentsIndexedTotal int64
	AccountsEnrichedTotal int64

	// ======================
	// 계정 메타데이터 조회
	// ======================

	// RemoteCallsTotal
	// - Organizations 조회 시도 수. 캐시가 제대로 동작하면 계정 수 × (TTL 당 1회) 수준에 머문다.
	// - 갑자기 튀면 로컬/durable 캐시가 비었거나 DynamoDB 가 장애 중이라는 신호.
	RemoteCallsTotal int64

	// FallbacksTotal
	// - 조회 실패로 fallback 메타데이터가 붙은 계정 수. 0 이 아니면 권한/스로틀링 확인.
	FallbacksTotal int64

	// ======================
	// Bulk / DLQ
	// ======================

	BulkRetriesTotal  int64
	DeadLetteredTotal int64

	// ======================
	// HTTP (server 모드 전용)
	// ======================

	HTTPRequestsTotal                     int64
	HTTPRequestsRejectedBodyTooLargeTotal int64
	HTTPRequestsRejectedBadRequestTotal   int64
}

func New() *Metrics {
	return &Metrics{}
}

// Absorb 는 끝난 invocation 의 카운터를 누적값에 더한다.
func (m *Metrics) Absorb(inv Invocation, failed bool) {
	atomic.AddInt64(&m.InvocationsTotal, 1)
	if failed {
		atomic.AddInt64(&m.InvocationsFailedTotal, 1)
	}
	atomic.AddInt64(&m.EventsProcessedTotal, inv.EventsProcessed)
	atomic.AddInt64(&m.EventsFailedTotal, inv.EventsFailed)
	atomic.AddInt64(&m.DocumentsIndexedTotal, inv.DocumentsIndexed)
	atomic.AddInt64(&m.AccountsEnrichedTotal, inv.AccountsEnriched)
	atomic.AddInt64(&m.RemoteCallsTotal, inv.RemoteCalls)
	atomic.AddInt64(&m.FallbacksTotal, inv.Fallbacks)
	atomic.AddInt64(&m.BulkRetriesTotal, inv.BulkRetries)
	atomic.AddInt64(&m.DeadLetteredTotal, inv.DeadLettered)
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(512)

	fmt.Fprintf(&sb, "invocations_total=%d\n", atomic.LoadInt64(&m.InvocationsTotal))
	fmt.Fprintf(&sb, "invocations_failed_total=%d\n", atomic.LoadInt64(&m.InvocationsFailedTotal))

	fmt.Fprintf(&sb, "events_processed_total=%d\n", atomic.LoadInt64(&m.EventsProcessedTotal))
	fmt.Fprintf(&sb, "events_failed_total=%d\n", atomic.LoadInt64(&m.EventsFailedTotal))
	fmt.Fprintf(&sb, "documents_indexed_total=%d\n", atomic.LoadInt64(&m.DocumentsIndexedTotal))
	fmt.Fprintf(&sb, "accounts_enriched_total=%d\n", atomic.LoadInt64(&m.AccountsEnrichedTotal))

	fmt.Fprintf(&sb, "remote_calls_total=%d\n", atomic.LoadInt64(&m.RemoteCallsTotal))
	fmt.Fprintf(&sb, "fallbacks_total=%d\n", atomic.LoadInt64(&m.FallbacksTotal))

	fmt.Fprintf(&sb, "bulk_retries_total=%d\n", atomic.LoadInt64(&m.BulkRetriesTotal))
	fmt.Fprintf(&sb, "dead_lettered_total=%d\n", atomic.LoadInt64(&m.DeadLetteredTotal))

	fmt.Fprintf(&sb, "http_requests_total=%d\n", atomic.LoadInt64(&m.HTTPRequestsTotal))
	fmt.Fprintf(&sb, "http_requests_rejected_body_too_large_total=%d\n", atomic.LoadInt64(&m.HTTPRequestsRejectedBodyTooLargeTotal))
	fmt.Fprintf(&sb, "http_requests_rejected_bad_request_total=%d\n", atomic.LoadInt64(&m.HTTPRequestsRejectedBadRequestTotal))

	return sb.String()
}

package metrics

import (
	"sync/atomic"
	"time"
)

// Invocation
//
// invocation 1회 범위의 카운터. invocation 시작 시 NewInvocation 으로 만들고
// 파이프라인 각 단계에 포인터로 넘긴다 (전역 상태 없음).
// 계정 조회가 errgroup 으로 병렬 수행되므로 모든 증감은 atomic 으로 한다.
type Invocation struct {
	StartedAt time.Time

	EventsProcessed  int64 // 문서로 만들어진 레코드 수
	EventsFailed     int64 // 파싱 실패 + bulk 부분 실패 문서 수
	DocumentsIndexed int64 // bulk 응답 기준 성공 문서 수
	AccountsEnriched int64 // fallback 이 아닌 메타데이터로 enrichment 된 고유 계정 수

	LocalCacheHits     int64
	LocalCacheMisses   int64
	DurableCacheHits   int64
	DurableCacheMisses int64
	DurableCacheErrors int64
	RemoteCalls        int64 // Organizations 조회 시도 수 (비용/rate 관측용)
	Fallbacks          int64

	BulkRequests   int64
	BulkRetries    int64
	DeadLettered   int64
	ProcessingTime int64 // ms, Finish 에서 기록
}

func NewInvocation(now time.Time) *Invocation {
	return &Invocation{StartedAt: now}
}

// Add 는 counter 에 n 을 원자적으로 더한다.
func Add(counter *int64, n int64) {
	if counter == nil || n == 0 {
		return
	}
	atomic.AddInt64(counter, n)
}

// Inc* 메서드는 nil receiver 를 허용한다 (지표 없이 Resolver 만 쓰는 경우).
func (inv *Invocation) IncLocalHit() {
	if inv != nil {
		Add(&inv.LocalCacheHits, 1)
	}
}

func (inv *Invocation) IncLocalMiss() {
	if inv != nil {
		Add(&inv.LocalCacheMisses, 1)
	}
}

func (inv *Invocation) IncDurableHit() {
	if inv != nil {
		Add(&inv.DurableCacheHits, 1)
	}
}

func (inv *Invocation) IncDurableMiss() {
	if inv != nil {
		Add(&inv.DurableCacheMisses, 1)
	}
}

func (inv *Invocation) IncDurableError() {
	if inv != nil {
		Add(&inv.DurableCacheErrors, 1)
	}
}

func (inv *Invocation) IncRemoteCall() {
	if inv != nil {
		Add(&inv.RemoteCalls, 1)
	}
}

func (inv *Invocation) IncFallback() {
	if inv != nil {
		Add(&inv.Fallbacks, 1)
	}
}

// Finish 는 처리 시간을 기록한다.
func (inv *Invocation) Finish(now time.Time) {
	atomic.StoreInt64(&inv.ProcessingTime, now.Sub(inv.StartedAt).Milliseconds())
}

// Snapshot 은 현재 값을 복사한 사본. Reporter / 테스트는 사본만 읽는다.
func (inv *Invocation) Snapshot() Invocation {
	return Invocation{
		StartedAt:          inv.StartedAt,
		EventsProcessed:    atomic.LoadInt64(&inv.EventsProcessed),
		EventsFailed:       atomic.LoadInt64(&inv.EventsFailed),
		DocumentsIndexed:   atomic.LoadInt64(&inv.DocumentsIndexed),
		AccountsEnriched:   atomic.LoadInt64(&inv.AccountsEnriched),
		LocalCacheHits:     atomic.LoadInt64(&inv.LocalCacheHits),
		LocalCacheMisses:   atomic.LoadInt64(&inv.LocalCacheMisses),
		DurableCacheHits:   atomic.LoadInt64(&inv.DurableCacheHits),
		DurableCacheMisses: atomic.LoadInt64(&inv.DurableCacheMisses),
		DurableCacheErrors: atomic.LoadInt64(&inv.DurableCacheErrors),
		RemoteCalls:        atomic.LoadInt64(&inv.RemoteCalls),
		Fallbacks:          atomic.LoadInt64(&inv.Fallbacks),
		BulkRequests:       atomic.LoadInt64(&inv.BulkRequests),
		BulkRetries:        atomic.LoadInt64(&inv.BulkRetries),
		DeadLettered:       atomic.LoadInt64(&inv.DeadLettered),
		ProcessingTime:     atomic.LoadInt64(&inv.ProcessingTime),
	}
}

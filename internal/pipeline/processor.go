// internal/pipeline/processor.go
package pipeline

import (
	"context"
	"sync"
	"time"

	"audit-enrich/internal/deadletter"
	"audit-enrich/internal/decoder"
	"audit-enrich/internal/document"
	"audit-enrich/internal/indexer"
	"audit-enrich/internal/logger"
	"audit-enrich/internal/metrics"
	"audit-enrich/internal/model"

	"github.com/aws/aws-lambda-go/events"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Resolver 는 계정 ID → 메타데이터. 에러를 반환하지 않는다 (실패 시 fallback).
type Resolver interface {
	Resolve(ctx context.Context, accountID string, inv *metrics.Invocation) model.AccountMetadata
}

type Indexer interface {
	Submit(ctx context.Context, docs []model.Document) (indexer.Result, error)
}

type Reporter interface {
	Flush(ctx context.Context, inv *metrics.Invocation)
}

type DeadLetter interface {
	Save(ctx context.Context, entries []deadletter.Entry) (string, error)
}

type Options struct {
	IndexPrefix        string
	ResolveConcurrency int
	DeadlineSafety     time.Duration
}

// Processor
//
// invocation 1회 = 배치 1개.
//
//	envelope → Decode → ParseMessage(레코드별 격리) → 고유 계정 병렬 Resolve
//	→ Build → Submit(1회) → (부분 실패분 DLQ) → 지표 flush
//
// Process 는 어떤 경우에도 panic/에러 없이 Summary 를 반환한다.
// 치명적 실패(envelope 손상, bulk 전송 소진)만 Summary.Error 로 드러난다.
type Processor struct {
	resolver Resolver // nil 이면 enrichment 비활성
	indexer  Indexer
	reporter Reporter   // nil 가능
	dlq      DeadLetter // nil 가능
	totals   *metrics.Metrics
	opts     Options

	now func() time.Time
}

func NewProcessor(resolver Resolver, ix Indexer, reporter Reporter, dlq DeadLetter, totals *metrics.Metrics, opts Options) *Processor {
	if opts.ResolveConcurrency < 1 {
		opts.ResolveConcurrency = 1
	}
	if totals == nil {
		totals = metrics.New()
	}
	return &Processor{
		resolver: resolver,
		indexer:  ix,
		reporter: reporter,
		dlq:      dlq,
		totals:   totals,
		opts:     opts,
		now:      time.Now,
	}
}

// parsedRecord 는 레코드와 그것을 실어 온 log event 의 전달 시각.
type parsedRecord struct {
	rec       model.AuditRecord
	deliverMs int64
}

func (p *Processor) Process(ctx context.Context, ev events.CloudwatchLogsEvent, requestID string) model.Summary {
	inv := metrics.NewInvocation(p.now())
	lg := logger.ForInvocation(requestID, "", "")

	ctx, cancel := p.budget(ctx)
	defer cancel()

	// ------------------------------------------------------------
	// 1) envelope 복원
	// ------------------------------------------------------------
	data, err := decoder.Decode(ev.AWSLogs)
	if err != nil {
		lg.Error().Err(err).Msg("envelope decode failed")
		return p.finish(ctx, lg, inv, 0, err, model.ErrorTypeDecode)
	}
	lg = logger.ForInvocation(requestID, data.Owner, data.LogGroup)
	ctx = lg.WithContext(ctx)

	if len(data.LogEvents) == 0 {
		lg.Debug().Str("message_type", data.MessageType).Msg("no log events")
		return p.finish(ctx, lg, inv, 0, nil, "")
	}

	// ------------------------------------------------------------
	// 2) 레코드 파싱 (실패는 레코드 단위로 격리)
	// ------------------------------------------------------------
	records := make([]parsedRecord, 0, len(data.LogEvents))
	for _, le := range data.LogEvents {
		recs, errs := decoder.ParseMessage(le.Message)
		for _, e := range errs {
			metrics.Add(&inv.EventsFailed, 1)
			lg.Warn().Err(e).Str("log_event_id", le.ID).Msg("skipping malformed record")
		}
		for _, r := range recs {
			records = append(records, parsedRecord{rec: r, deliverMs: le.Timestamp})
		}
	}

	// ------------------------------------------------------------
	// 3) 고유 계정 메타데이터 조회
	// ------------------------------------------------------------
	metas := p.resolveAccounts(ctx, records, data.Owner, inv)

	// ------------------------------------------------------------
	// 4) 문서 생성
	// ------------------------------------------------------------
	ingestedAt := p.now()
	docs := make([]model.Document, 0, len(records))
	for _, pr := range records {
		src := document.Source{
			Owner:      data.Owner,
			LogGroup:   data.LogGroup,
			LogStream:  data.LogStream,
			EventTime:  pr.deliverMs,
			IngestedAt: ingestedAt,
		}
		var meta *model.AccountMetadata
		if m, ok := metas[document.RecipientAccountID(pr.rec, data.Owner)]; ok {
			meta = &m
		}
		docs = append(docs, document.Build(pr.rec, meta, src, p.opts.IndexPrefix))
	}
	metrics.Add(&inv.EventsProcessed, int64(len(docs)))

	if len(docs) == 0 {
		return p.finish(ctx, lg, inv, 0, nil, "")
	}

	// ------------------------------------------------------------
	// 5) bulk 전송 (배치당 1회)
	// ------------------------------------------------------------
	res, err := p.indexer.Submit(ctx, docs)
	metrics.Add(&inv.BulkRequests, int64(res.Requests))
	metrics.Add(&inv.BulkRetries, int64(res.Retries))
	metrics.Add(&inv.DocumentsIndexed, int64(res.Indexed))
	metrics.Add(&inv.EventsFailed, int64(len(res.Failed)))

	if err != nil {
		lg.Error().Err(err).Int("documents", len(docs)).Msg("bulk submit failed")
		return p.finish(ctx, lg, inv, res.Indexed, err, model.ErrorTypeSubmit)
	}

	if len(res.Failed) > 0 {
		lg.Warn().
			Int("failed", len(res.Failed)).
			Int("attempted", res.Attempted).
			Msg("bulk partially failed")
		p.deadLetter(ctx, lg, inv, requestID, docs, res.Failed)
	}

	return p.finish(ctx, lg, inv, res.Attempted, nil, "")
}

// budget
//
// invocation deadline 에서 DeadlineSafety 만큼 앞당긴 ctx.
// 누적 backoff 가 Lambda timeout 을 넘기면 summary 조차 못 돌려주므로
// 모든 retry 는 이 ctx 를 따른다.
func (p *Processor) budget(ctx context.Context) (context.Context, context.CancelFunc) {
	dl, ok := ctx.Deadline()
	if !ok || p.opts.DeadlineSafety <= 0 {
		return context.WithCancel(ctx)
	}
	shrunk := dl.Add(-p.opts.DeadlineSafety)
	if !shrunk.After(p.now()) {
		// 여유가 안전 마진보다 작으면 남은 시간의 절반만 쓴다.
		shrunk = p.now().Add(time.Until(dl) / 2)
	}
	return context.WithDeadline(ctx, shrunk)
}

// resolveAccounts 는 배치 안의 고유 계정을 errgroup 으로 병렬 조회한다.
// enrichment 비활성이면 빈 map (문서에는 accountId 만 붙는다).
func (p *Processor) resolveAccounts(ctx context.Context, records []parsedRecord, owner string, inv *metrics.Invocation) map[string]model.AccountMetadata {
	metas := make(map[string]model.AccountMetadata)
	if p.resolver == nil || len(records) == 0 {
		return metas
	}

	ids := make([]string, 0)
	seen := make(map[string]struct{})
	for _, pr := range records {
		id := document.RecipientAccountID(pr.rec, owner)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.opts.ResolveConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			m := p.resolver.Resolve(ctx, id, inv)
			mu.Lock()
			metas[id] = m
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var enriched int64
	for _, m := range metas {
		if !m.Fallback {
			enriched++
		}
	}
	metrics.Add(&inv.AccountsEnriched, enriched)
	return metas
}

// deadLetter 는 거절된 문서를 DLQ 에 남긴다. 실패해도 결과에는 영향 없음.
func (p *Processor) deadLetter(ctx context.Context, lg zerolog.Logger, inv *metrics.Invocation, requestID string, docs []model.Document, failed []indexer.ItemFailure) {
	if p.dlq == nil {
		return
	}

	byID := make(map[string]model.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	entries := make([]deadletter.Entry, 0, len(failed))
	for _, f := range failed {
		entries = append(entries, deadletter.Entry{
			ID:        f.ID,
			Index:     f.Index,
			Status:    f.Status,
			ErrorType: f.Type,
			Reason:    f.Reason,
			RequestID: requestID,
			Document:  byID[f.ID].Body,
		})
	}

	if _, err := p.dlq.Save(ctx, entries); err != nil {
		lg.Error().Err(err).Int("documents", len(entries)).Msg("dead letter save failed")
		return
	}
	metrics.Add(&inv.DeadLettered, int64(len(entries)))
}

// finish 는 지표를 flush 하고 Summary 를 만든다.
// documentsIndexed: 성공 시 bulk 에 실은 문서 수, 전송 소진 시 그 전에 확정된 수.
func (p *Processor) finish(ctx context.Context, lg zerolog.Logger, inv *metrics.Invocation, documentsIndexed int, err error, errType string) model.Summary {
	inv.Finish(p.now())

	if p.reporter != nil {
		p.reporter.Flush(ctx, inv)
	}

	snap := inv.Snapshot()
	sum := model.Summary{
		DocumentsIndexed: documentsIndexed,
		EventsProcessed:  int(snap.EventsProcessed),
		EventsFailed:     int(snap.EventsFailed),
		AccountsEnriched: int(snap.AccountsEnriched),
		ProcessingTimeMs: snap.ProcessingTime,
	}
	if err != nil {
		sum.Error = err.Error()
		sum.ErrorType = errType
	}
	p.totals.Absorb(snap, sum.Failed())

	evt := lg.Info()
	if sum.Failed() {
		evt = lg.Error()
	}
	evt.
		Int("documents_indexed", sum.DocumentsIndexed).
		Int("events_processed", sum.EventsProcessed).
		Int("events_failed", sum.EventsFailed).
		Int("accounts_enriched", sum.AccountsEnriched).
		Int64("remote_calls", snap.RemoteCalls).
		Int64("fallbacks", snap.Fallbacks).
		Int64("processing_ms", sum.ProcessingTimeMs).
		Str("error_type", sum.ErrorType).
		Msg("invocation finished")
	return sum
}

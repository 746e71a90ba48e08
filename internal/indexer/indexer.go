// Package indexer writes documents to OpenSearch through the _bulk API with
// bounded retry and per-document failure reporting.
package indexer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"audit-enrich/internal/backoff"
	"audit-enrich/internal/model"

	json "github.com/goccy/go-json"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/rs/zerolog/log"
)

type Config struct {
	IndexPrefix string
	MaxBytes    int           // bulk 요청 1건 최대 payload (초과 시 분할)
	Timeout     time.Duration // 시도 1회당 timeout
	Retry       backoff.Policy
}

// ItemFailure 는 bulk 응답에서 실패로 보고된 문서 1건.
type ItemFailure struct {
	ID     string
	Index  string
	Status int
	Type   string
	Reason string
}

// Result
//
// Attempted 는 payload 에 실은 문서 수, Indexed 는 bulk 응답이 성공으로 보고한 수.
// Attempted - Indexed == len(Failed) (직렬화 실패분 포함).
type Result struct {
	Attempted int
	Indexed   int
	Failed    []ItemFailure
	Requests  int
	Retries   int
}

// SubmitError 는 전송 retry 소진. 배치 전체의 치명적 실패다.
type SubmitError struct {
	Attempts int
	Err      error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("bulk submit failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// statusError 는 2xx 가 아닌 응답. 재시도 대상.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("bulk http %d: %s", e.Status, e.Body)
}

// BulkIndexer
//
// 배치 하나를 bulk 요청 하나로 보낸다 (MaxBytes 초과 시에만 순차 분할).
// 재시도는 전송 오류 / non-2xx 에만 한다.
// 2xx + errors:true 는 문서 단위로 로그를 남기고 Failed 로 돌려줄 뿐 재전송하지 않는다.
type BulkIndexer struct {
	client *opensearch.Client
	cfg    Config
}

func New(client *opensearch.Client, cfg Config) *BulkIndexer {
	return &BulkIndexer{client: client, cfg: cfg}
}

func (b *BulkIndexer) Submit(ctx context.Context, docs []model.Document) (Result, error) {
	var res Result
	if len(docs) == 0 {
		return res, nil
	}

	chunks, bad := encodePayload(docs, b.cfg.MaxBytes)
	defer func() {
		for _, c := range chunks {
			c.release()
		}
	}()

	res.Attempted = len(docs)
	for _, f := range bad {
		logFailure(f)
	}
	res.Failed = append(res.Failed, bad...)

	for i, c := range chunks {
		items, attempts, err := b.send(ctx, c.buf.Bytes())
		res.Requests += attempts
		if attempts > 1 {
			res.Retries += attempts - 1
		}
		if err != nil {
			log.Error().Err(err).
				Int("chunk", i).
				Int("chunks", len(chunks)).
				Int("docs", len(c.docs)).
				Msg("bulk submit exhausted")
			return res, &SubmitError{Attempts: attempts, Err: err}
		}

		for _, it := range items {
			if it.ok() {
				res.Indexed++
				continue
			}
			f := it.failure()
			logFailure(f)
			res.Failed = append(res.Failed, f)
		}

		// 응답 items 는 요청 순서를 따른다. 모자란 뒷부분은 결과를 모르는 문서.
		for _, m := range missingItems(c.docs, len(items)) {
			logFailure(m)
			res.Failed = append(res.Failed, m)
		}
	}

	log.Debug().
		Int("attempted", res.Attempted).
		Int("indexed", res.Indexed).
		Int("failed", len(res.Failed)).
		Int("requests", res.Requests).
		Msg("bulk submit done")
	return res, nil
}

// send 는 payload 하나를 retry 정책에 따라 전송하고, 성공한 응답의 item 목록을 돌려준다.
func (b *BulkIndexer) send(ctx context.Context, payload []byte) ([]bulkItem, int, error) {
	var (
		items    []bulkItem
		attempts int
	)
	err := b.cfg.Retry.Retry(ctx,
		func(ctx context.Context, attempt int) error {
			attempts = attempt
			got, err := b.do(ctx, payload)
			if err != nil {
				return err
			}
			items = got
			return nil
		},
		func(attempt int, delay time.Duration, err error) {
			log.Warn().Err(err).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Int("bytes", len(payload)).
				Msg("bulk request failed, retrying")
		},
	)
	return items, attempts, err
}

func (b *BulkIndexer) do(ctx context.Context, payload []byte) ([]bulkItem, error) {
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	resp, err := b.client.Bulk(
		bytes.NewReader(payload),
		b.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("bulk transport: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read bulk response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &statusError{Status: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	var br bulkResponse
	if err := json.Unmarshal(body, &br); err != nil {
		return nil, fmt.Errorf("decode bulk response: %w", err)
	}

	items := make([]bulkItem, 0, len(br.Items))
	for _, m := range br.Items {
		for _, it := range m {
			items = append(items, it)
		}
	}
	return items, nil
}

// ---------------------------------------------------------------
// bulk 응답
// ---------------------------------------------------------------

type bulkResponse struct {
	Took   int                   `json:"took"`
	Errors bool                  `json:"errors"`
	Items  []map[string]bulkItem `json:"items"`
}

type bulkItem struct {
	Index  string         `json:"_index"`
	ID     string         `json:"_id"`
	Status int            `json:"status"`
	Error  *bulkItemError `json:"error,omitempty"`
}

type bulkItemError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func (it bulkItem) ok() bool {
	return it.Error == nil && it.Status >= 200 && it.Status <= 299
}

func (it bulkItem) failure() ItemFailure {
	f := ItemFailure{ID: it.ID, Index: it.Index, Status: it.Status}
	if it.Error != nil {
		f.Type = it.Error.Type
		f.Reason = it.Error.Reason
	}
	return f
}

func missingItems(sent []actionMeta, got int) []ItemFailure {
	if got >= len(sent) {
		return nil
	}
	out := make([]ItemFailure, 0, len(sent)-got)
	for _, a := range sent[got:] {
		out = append(out, ItemFailure{
			ID:     a.ID,
			Index:  a.Index,
			Type:   "missing_item",
			Reason: fmt.Sprintf("bulk response returned %d item(s) for %d document(s)", got, len(sent)),
		})
	}
	return out
}

func logFailure(f ItemFailure) {
	log.Warn().
		Str("doc_id", f.ID).
		Str("index", f.Index).
		Int("status", f.Status).
		Str("error_type", f.Type).
		Str("reason", f.Reason).
		Msg("document rejected by bulk")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

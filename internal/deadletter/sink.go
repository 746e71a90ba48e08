// Package deadletter keeps documents that OpenSearch rejected in a partial bulk
// failure as gzip JSONL objects in S3, so they can be inspected or replayed.
package deadletter

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Uploader 는 완성된 key / body 를 저장소에 올린다. 구현체는 S3Uploader.
type Uploader interface {
	UploadBytesWithRetryCtx(ctx context.Context, key string, body []byte) error
}

// Sink
//
// invocation 하나의 거절 문서를 파일 하나로 묶어 올린다.
// 실패해도 invocation 결과는 바뀌지 않는다 (호출자가 로그만 남김).
type Sink struct {
	up         Uploader
	prefix     string
	instanceID string
	now        func() time.Time
}

func NewSink(up Uploader, prefix, instanceID string) *Sink {
	return &Sink{up: up, prefix: prefix, instanceID: instanceID, now: time.Now}
}

// Save 는 entries 를 올리고 저장된 key 를 반환한다. entries 가 비어 있으면 아무것도 하지 않는다.
func (s *Sink) Save(ctx context.Context, entries []Entry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	now := s.now()
	for i := range entries {
		if entries[i].RejectedAt == "" {
			entries[i].RejectedAt = now.UTC().Format(time.RFC3339)
		}
	}

	data, err := EncodeJSONLGZ(entries)
	if err != nil {
		return "", fmt.Errorf("encode dead letter: %w", err)
	}

	key := BuildS3Key(s.prefix, now, NewFilename(now, s.instanceID))
	if err := s.up.UploadBytesWithRetryCtx(ctx, key, data); err != nil {
		return "", fmt.Errorf("upload dead letter %s: %w", key, err)
	}

	log.Info().
		Str("key", key).
		Int("documents", len(entries)).
		Int("bytes", len(data)).
		Msg("dead letter saved")
	return key, nil
}

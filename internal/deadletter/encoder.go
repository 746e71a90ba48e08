package deadletter

import (
	"audit-enrich/internal/pool"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// Entry 는 dead letter 파일의 한 줄. bulk 가 거절한 문서와 거절 사유.
type Entry struct {
	ID         string         `json:"_id"`
	Index      string         `json:"_index"`
	Status     int            `json:"status"`
	ErrorType  string         `json:"errorType,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	RequestID  string         `json:"requestId,omitempty"`
	RejectedAt string         `json:"rejectedAt"`
	Document   map[string]any `json:"document,omitempty"`
}

// EncodeJSONLGZ 는 entry 들을 JSONL 로 한 줄씩 인코딩한 뒤 gzip 압축해 반환한다.
//
// gzip.Writer 와 결과 버퍼는 pool 에서 가져오며,
// 반환값은 호출자가 소유하는 새 slice 로 복사한다 (pool 버퍼 재사용으로 인한 corruption 방지).
func EncodeJSONLGZ(entries []Entry) ([]byte, error) {
	buf := pool.GetBuffer()
	gz := pool.GzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)

	release := func() {
		pool.GzipPool.Put(gz)
		pool.PutBuffer(buf)
	}

	enc := json.NewEncoder(gz)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			_ = gz.Close()
			release()
			return nil, err
		}
	}

	// Close 시 gzip footer 까지 기록된다.
	if err := gz.Close(); err != nil {
		release()
		return nil, err
	}

	raw := buf.Bytes()
	data := make([]byte, len(raw))
	copy(data, raw)
	release()

	return data, nil
}

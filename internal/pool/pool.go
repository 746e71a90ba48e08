package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// Lambda 는 warm 상태에서 같은 프로세스로 invocation 을 연속 처리한다.
// 배치마다 bulk payload, gzip 해제 버퍼, DLQ gzip 버퍼를 새로 할당하면
// GC 부담이 크므로 아래 Pool 로 재사용한다.
// ---------------------------------------------------------------

var (
	// BodyPool:
	//   - server 모드 POST body 임시 버퍼 (초기 64KB)
	BodyPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 64*1024))
		},
	}

	// BufferPool:
	//   - bulk NDJSON payload / envelope 해제 결과 / DLQ gzip 결과
	//   - 초기 용량 256KB
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 256*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용. DLQ 는 속도 우선(BestSpeed).
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

// 이보다 큰 버퍼는 Pool 에 넣지 않고 GC 에게 위임한다.
// bulk payload 는 최대 BULK_MAX_BYTES(기본 9MB) 까지 커지므로
// 한 번 큰 배치가 들어왔다고 해서 그 메모리를 계속 붙잡고 있지 않게 한다.
const MaxBufferCap = 1 * 1024 * 1024 // 1MB

// GetBuffer 는 비워진 버퍼를 꺼낸다.
func GetBuffer() *bytes.Buffer {
	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer:
//   - MaxBufferCap 이하일 때만 재사용
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}

// PutBody:
//   - maxCap(보통 MaxBodySize*2)보다 크면 버려서 GC 로.
func PutBody(buf *bytes.Buffer, maxCap int64) {
	if int64(buf.Cap()) <= maxCap {
		buf.Reset()
		BodyPool.Put(buf)
	}
}

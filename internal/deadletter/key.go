package deadletter

import (
	"fmt"
	"sync/atomic"
	"time"
)

// 파일명 규칙:
//
//	<unix>_<instance>_<counter>.jsonl.gz
//
// 예:
//
//	1764721594_169.254.12.1_000042.jsonl.gz
//
// 정렬하면 곧 시간 순 정렬이므로 재처리 시 오래된 파일부터 집을 수 있다.
var globalCounter uint64

// NextCounter 는 1e6 에서 0 으로 돌아간다.
// wrap-around 되어도 timestamp + instance 조합으로 파일명 충돌은 사실상 없다.
func NextCounter() uint64 {
	return atomic.AddUint64(&globalCounter, 1) % 1_000_000
}

func NewFilename(now time.Time, instanceID string) string {
	return fmt.Sprintf("%d_%s_%06d.jsonl.gz", now.Unix(), instanceID, NextCounter())
}

// BuildS3Key
//
//	<prefix>/dt=<YYYY-MM-DD>/hr=<HH>/<filename>
//
// Athena / Glue 파티션 스캔 비용을 줄이기 위한 구조. 시각은 UTC.
func BuildS3Key(prefix string, now time.Time, filename string) string {
	now = now.UTC()
	return fmt.Sprintf("%s/dt=%s/hr=%s/%s", prefix, now.Format("2006-01-02"), now.Format("15"), filename)
}

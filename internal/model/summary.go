// internal/model/summary.go
package model

// Summary
// ------------------------------------------------------------
// invocation 1회의 결과. 성공/실패 모두 같은 모양으로 반환하며,
// 치명적 실패일 때만 Error / ErrorType 이 채워진다.
// 트리거(CloudWatch Logs subscription)로 예외를 던지지 않기 위한 구조다.
type Summary struct {
	DocumentsIndexed int    `json:"documentsIndexed"`
	EventsProcessed  int    `json:"eventsProcessed"`
	EventsFailed     int    `json:"eventsFailed"`
	AccountsEnriched int    `json:"accountsEnriched"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
	Error            string `json:"error,omitempty"`
	ErrorType        string `json:"errorType,omitempty"`
}

const (
	ErrorTypeDecode = "DecodeError"
	ErrorTypeSubmit = "SubmitError"
)

// Failed 는 치명적 실패 요약인지 여부.
func (s Summary) Failed() bool {
	return s.Error != ""
}

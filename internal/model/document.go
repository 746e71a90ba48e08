// internal/model/document.go
package model

// Document
// ------------------------------------------------------------
// 색인 대상 문서 1건. ID 는 (recipientAccountId, eventID) 의 SHA-256 이며
// 그대로 OpenSearch _id 가 된다. 재전송(at-least-once)되어도 같은 _id 로 덮어쓴다.
type Document struct {
	ID    string         `json:"_id"`
	Index string         `json:"_index"`
	Body  map[string]any `json:"document"`
}

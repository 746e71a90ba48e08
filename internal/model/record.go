// internal/model/record.go
package model

// UserIdentity
// ------------------------------------------------------------
// CloudTrail userIdentity 중 색인/탐지에 쓰는 필드만 구조체로 꺼낸다.
// 나머지 필드(sessionContext 등)는 AuditRecord.Raw 에 그대로 남는다.
type UserIdentity struct {
	Type        string `json:"type,omitempty"`
	PrincipalID string `json:"principalId,omitempty"`
	ARN         string `json:"arn,omitempty"`
	AccountID   string `json:"accountId,omitempty"`
}

// AuditRecord
// ------------------------------------------------------------
// 감사 로그(CloudTrail) 레코드 1건 = API 호출 1건.
// 파이프라인의 기본 처리 단위이며 Decoder → Resolver/Builder → Indexer 로 흐른다.
//
// EventID + RecipientAccountID 조합이 시스템 전체에서 유일하며,
// 이것이 유일한 idempotency key 이다.
type AuditRecord struct {
	EventID            string       `json:"eventID"`
	EventTime          string       `json:"eventTime"`
	EventSource        string       `json:"eventSource"`
	EventName          string       `json:"eventName"`
	AWSRegion          string       `json:"awsRegion"`
	RecipientAccountID string       `json:"recipientAccountId"`
	SourceIPAddress    string       `json:"sourceIPAddress"`
	UserIdentity       UserIdentity `json:"userIdentity"`
	RequestParameters  any          `json:"requestParameters,omitempty"`

	// Raw 는 원본 레코드 전체. 문서 본문은 이 값 위에 enrichment 필드를 덧씌워 만든다.
	Raw map[string]any `json:"-"`
}

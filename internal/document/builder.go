// Package document shapes an audit record and its account metadata into an
// index document with a content-derived id.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"audit-enrich/internal/model"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Unknown 은 값이 없거나 신뢰할 수 없는 파생 필드의 기본값.
const Unknown = "unknown"

// TimestampLayout: RFC3339, UTC, 밀리초 고정.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Source 는 레코드를 실어 온 envelope / log event 정보.
type Source struct {
	Owner     string
	LogGroup  string
	LogStream string
	EventTime int64 // log event timestamp (epoch ms). eventTime 파싱 실패 시 사용

	IngestedAt time.Time
}

// DocumentID = hex(SHA-256(recipientAccountId + eventId)).
// 재전송돼도 같은 id 가 나오므로 bulk index 가 덮어쓰기가 된다.
func DocumentID(recipientAccountID, eventID string) string {
	sum := sha256.Sum256([]byte(recipientAccountID + eventID))
	return hex.EncodeToString(sum[:])
}

// IndexName 은 <prefix>-YYYY.MM.DD (UTC).
func IndexName(prefix string, ts time.Time) string {
	return prefix + "-" + ts.UTC().Format("2006.01.02")
}

// RecipientAccountID: recipientAccountId → userIdentity.accountId → envelope owner.
func RecipientAccountID(rec model.AuditRecord, owner string) string {
	if rec.RecipientAccountID != "" {
		return rec.RecipientAccountID
	}
	if rec.UserIdentity.AccountID != "" {
		return rec.UserIdentity.AccountID
	}
	return owner
}

// Build
//
// 원본 레코드 필드 위에 파생 필드와 계정 필드를 덧씌운 문서를 만든다.
// 같은 입력이면 항상 같은 문서/ID (IngestedAt 은 Source 로 주입).
// meta 가 nil 이면 enrichment 비활성 상태로 보고 accountId 만 붙인다.
func Build(rec model.AuditRecord, meta *model.AccountMetadata, src Source, indexPrefix string) model.Document {
	accountID := RecipientAccountID(rec, src.Owner)
	ts := timestamp(rec.EventTime, src.EventTime)

	body := make(map[string]any, len(rec.Raw)+24)
	for k, v := range rec.Raw {
		body[k] = v
	}

	body["recipientAccountId"] = accountID
	body["@timestamp"] = ts.Format(TimestampLayout)
	body["eventNameNormalized"] = normalizeEventName(rec.EventName)
	body["userIdentityType"] = orUnknown(rec.UserIdentity.Type)
	body["eventSource"] = orUnknown(rec.EventSource)
	body["awsRegion"] = orUnknown(rec.AWSRegion)
	body["logGroup"] = orUnknown(src.LogGroup)
	body["logStream"] = orUnknown(src.LogStream)
	body["ingestedAt"] = src.IngestedAt.UTC().Format(TimestampLayout)

	body["accountId"] = accountID
	if meta != nil {
		body["accountAlias"] = orUnknown(meta.Alias)
		body["accountType"] = orUnknown(string(meta.AccountType))
		body["organizationalUnit"] = orUnknown(meta.OrganizationalUnit)
		body["organizationId"] = orUnknown(meta.OrganizationID)
		body["costCenter"] = orUnknown(meta.CostCenter)
		body["environment"] = orUnknown(meta.Environment)
		body["team"] = orUnknown(meta.Team)
		body["businessUnit"] = orUnknown(meta.BusinessUnit)
		body["complianceLevel"] = orUnknown(meta.ComplianceLevel)
		body["accountStatus"] = orUnknown(meta.Status)
		body["enrichmentFallback"] = meta.Fallback
	}

	return model.Document{
		ID:    DocumentID(accountID, rec.EventID),
		Index: IndexName(indexPrefix, ts),
		Body:  body,
	}
}

// timestamp: eventTime 을 파싱하고, 실패하면 log event 의 전달 시각을 쓴다.
func timestamp(eventTime string, fallbackMs int64) time.Time {
	if eventTime != "" {
		if t, err := time.Parse(time.RFC3339Nano, eventTime); err == nil {
			return t.UTC()
		}
	}
	return time.UnixMilli(fallbackMs).UTC()
}

// normalizeEventName 은 keyword 검색용 소문자 이벤트 이름.
// cases.Caser 는 goroutine-safe 하지 않아 호출마다 만든다.
func normalizeEventName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return Unknown
	}
	return cases.Lower(language.Und).String(name)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return Unknown
	}
	return s
}

package document

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"audit-enrich/internal/decoder"
	"audit-enrich/internal/model"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSource() Source {
	return Source{
		Owner:      "111111111111",
		LogGroup:   "aws-cloudtrail-logs",
		LogStream:  "111111111111_CloudTrail_us-east-1",
		EventTime:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).UnixMilli(),
		IngestedAt: time.Date(2024, 5, 1, 10, 0, 1, 0, time.UTC),
	}
}

func TestDocumentID(t *testing.T) {
	sum := sha256.Sum256([]byte("111111111111e1"))
	assert.Equal(t, hex.EncodeToString(sum[:]), DocumentID("111111111111", "e1"))
	assert.Len(t, DocumentID("111111111111", "e1"), 64)
	assert.NotEqual(t, DocumentID("111111111111", "e1"), DocumentID("111111111112", "e1"))
}

func TestBuild_Deterministic(t *testing.T) {
	rec := model.AuditRecord{
		EventID:            "e1",
		EventTime:          "2024-05-01T09:59:58Z",
		EventName:          "RunInstances",
		RecipientAccountID: "111111111111",
		Raw:                map[string]any{"eventID": "e1", "eventName": "RunInstances"},
	}
	meta := &model.AccountMetadata{AccountID: "111111111111", Alias: "prod-main", AccountType: model.AccountTypeProduction, Environment: "production"}

	a := Build(rec, meta, testSource(), "cwl-multiaccounts")
	b := Build(rec, meta, testSource(), "cwl-multiaccounts")
	assert.Equal(t, a, b)

	assert.Equal(t, DocumentID("111111111111", "e1"), a.ID)
	assert.Equal(t, "cwl-multiaccounts-2024.05.01", a.Index)
	assert.Equal(t, "2024-05-01T09:59:58.000Z", a.Body["@timestamp"])
	assert.Equal(t, "runinstances", a.Body["eventNameNormalized"])
	assert.Equal(t, "prod-main", a.Body["accountAlias"])
	assert.Equal(t, "production", a.Body["environment"])
	assert.Equal(t, "RunInstances", a.Body["eventName"])
	assert.Equal(t, false, a.Body["enrichmentFallback"])
}

func TestBuild_DefaultsToUnknown(t *testing.T) {
	rec := model.AuditRecord{EventID: "e2", Raw: map[string]any{"eventID": "e2"}}
	meta := model.FallbackMetadata("", time.Now())

	doc := Build(rec, &meta, Source{Owner: "222222222222", EventTime: testSource().EventTime}, "idx")

	assert.Equal(t, "222222222222", doc.Body["recipientAccountId"])
	assert.Equal(t, DocumentID("222222222222", "e2"), doc.ID)
	assert.Equal(t, Unknown, doc.Body["eventNameNormalized"])
	assert.Equal(t, Unknown, doc.Body["userIdentityType"])
	assert.Equal(t, Unknown, doc.Body["logGroup"])
	assert.Equal(t, Unknown, doc.Body["accountType"])
	assert.Equal(t, Unknown, doc.Body["organizationalUnit"])
	assert.Equal(t, true, doc.Body["enrichmentFallback"])
	assert.Equal(t, "2024-05-01T10:00:00.000Z", doc.Body["@timestamp"], "unparsable eventTime uses delivery time")
}

func TestBuild_RecipientFallsBackToIdentity(t *testing.T) {
	rec := model.AuditRecord{
		EventID:      "e3",
		EventTime:    "not-a-time",
		UserIdentity: model.UserIdentity{Type: "AssumedRole", AccountID: "333333333333"},
	}
	doc := Build(rec, nil, testSource(), "idx")

	assert.Equal(t, "333333333333", doc.Body["accountId"])
	assert.Equal(t, "AssumedRole", doc.Body["userIdentityType"])
	_, hasAlias := doc.Body["accountAlias"]
	assert.False(t, hasAlias, "no account fields when enrichment is off")
}

func TestIndexName(t *testing.T) {
	ts := time.Date(2024, 12, 31, 23, 59, 59, 0, time.FixedZone("KST", 9*3600))
	assert.Equal(t, "p-2024.12.31", IndexName("p", ts))
}

func TestBuild_KeepsLargeIntegersExact(t *testing.T) {
	recs, errs := decoder.ParseMessage(`{"eventID":"e1","eventName":"PutItem","recipientAccountId":"111111111111",` +
		`"requestParameters":{"itemId":9007199254740993},"big":12345678901234567890}`)
	require.Empty(t, errs)
	require.Len(t, recs, 1)

	doc := Build(recs[0], nil, testSource(), "cwl")
	out, err := json.Marshal(doc.Body)
	require.NoError(t, err)

	assert.Contains(t, string(out), `"big":12345678901234567890`)
	assert.Contains(t, string(out), `"itemId":9007199254740993`)
}

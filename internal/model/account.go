// internal/model/account.go
package model

import "time"

// AccountType 은 계정 용도 분류.
type AccountType string

const (
	AccountTypeProduction  AccountType = "production"
	AccountTypeStaging     AccountType = "staging"
	AccountTypeDevelopment AccountType = "development"
	AccountTypeTesting     AccountType = "testing"
	AccountTypeSandbox     AccountType = "sandbox"
	AccountTypeUnknown     AccountType = "unknown"
)

// AccountMetadata
// ------------------------------------------------------------
// 계정 ID 에 대한 설명 메타데이터. Resolver 만 생성하며 생성 후에는 변경하지 않는다.
// 갱신은 새 값으로 "교체" 한다 (mutate 금지).
//
// Fallback=true 는 원격 조회가 끝내 실패해서 채워 넣은 placeholder 라는 뜻이다.
type AccountMetadata struct {
	AccountID          string      `json:"accountId"`
	Alias              string      `json:"alias"`
	AccountType        AccountType `json:"accountType"`
	OrganizationalUnit string      `json:"organizationalUnit,omitempty"`
	OrganizationID     string      `json:"organizationId,omitempty"`
	CostCenter         string      `json:"costCenter,omitempty"`
	Environment        string      `json:"environment,omitempty"`
	Team               string      `json:"team,omitempty"`
	BusinessUnit       string      `json:"businessUnit,omitempty"`
	ComplianceLevel    string      `json:"complianceLevel,omitempty"`
	Status             string      `json:"status,omitempty"`
	LastUpdated        time.Time   `json:"lastUpdated"`
	Fallback           bool        `json:"fallback"`
}

// FallbackMetadata 는 조회 실패 시 사용하는 best-effort 값.
func FallbackMetadata(accountID string, now time.Time) AccountMetadata {
	alias := accountID
	if alias == "" {
		alias = "unknown"
	}
	return AccountMetadata{
		AccountID:   accountID,
		Alias:       alias,
		AccountType: AccountTypeUnknown,
		Environment: "unknown",
		Status:      "unknown",
		LastUpdated: now.UTC(),
		Fallback:    true,
	}
}

package account

import (
	"strings"

	"audit-enrich/internal/model"
)

// rule 하나 = (부분 문자열 목록 → 계정 타입).
type rule struct {
	keywords []string
	kind     model.AccountType
}

// classifyRules
//
// 위에서부터 처음 맞는 rule 이 이긴다. 순서가 의미를 가진다.
//   - "preprod" 는 "prod" 를 포함하므로 staging 이 production 보다 먼저 와야 한다.
//   - "sandbox-dev" 같은 이름은 sandbox 로 본다.
var classifyRules = []rule{
	{keywords: []string{"preprod", "pre-prod", "staging", "stage", "stg", "uat"}, kind: model.AccountTypeStaging},
	{keywords: []string{"sandbox", "sbx", "playground"}, kind: model.AccountTypeSandbox},
	{keywords: []string{"test", "qa"}, kind: model.AccountTypeTesting},
	{keywords: []string{"dev"}, kind: model.AccountTypeDevelopment},
	{keywords: []string{"prod", "prd"}, kind: model.AccountTypeProduction},
}

// Classify 는 계정 이름 / 환경 값으로부터 계정 타입을 추정한다. 맞는 rule 이 없으면 unknown.
func Classify(s string) model.AccountType {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return model.AccountTypeUnknown
	}
	for _, r := range classifyRules {
		for _, kw := range r.keywords {
			if strings.Contains(s, kw) {
				return r.kind
			}
		}
	}
	return model.AccountTypeUnknown
}

// ParseAccountType 은 AccountType 태그처럼 타입 이름이 그대로 들어온 값을 해석한다.
// 알려진 타입(unknown 제외)일 때만 ok=true.
func ParseAccountType(s string) (model.AccountType, bool) {
	switch t := model.AccountType(strings.ToLower(strings.TrimSpace(s))); t {
	case model.AccountTypeProduction,
		model.AccountTypeStaging,
		model.AccountTypeDevelopment,
		model.AccountTypeTesting,
		model.AccountTypeSandbox:
		return t, true
	}
	return model.AccountTypeUnknown, false
}

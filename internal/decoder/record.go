package decoder

import (
	"bytes"
	"errors"
	"fmt"

	"audit-enrich/internal/model"

	json "github.com/goccy/go-json"
)

var errMissingEventID = errors.New("record has no eventID")

// trailEnvelope 는 메시지 1건의 최상위 모양.
//   - CloudTrail → CloudWatch Logs 전달: 레코드 1건이 메시지 1건
//   - S3 digest 재전송 등: {"Records":[...]} wrapper
//
// 둘 다 아니면(heartbeat, 로그 스트림 알림 등) 감사 메시지가 아니므로 skip.
type trailEnvelope struct {
	Records   []json.RawMessage `json:"Records"`
	EventID   string            `json:"eventID"`
	EventName string            `json:"eventName"`
}

// ParseMessage
//
// 로그 메시지 1건을 0개 이상의 AuditRecord 로 파싱한다.
// 반환된 error 하나가 실패한 레코드 하나에 대응한다 (JSON object 가 깨져 있으면 1건 실패).
// JSON object 가 아닌 메시지(평문 heartbeat 등)는 감사 메시지가 아니므로 skip.
// 실패는 호출자가 카운트하고 넘어가며, 배치를 중단시키지 않는다.
func ParseMessage(msg string) ([]model.AuditRecord, []error) {
	if !looksLikeObject(msg) {
		return nil, nil
	}

	var env trailEnvelope
	if err := json.Unmarshal([]byte(msg), &env); err != nil {
		return nil, []error{fmt.Errorf("message is not valid JSON: %w", err)}
	}

	if env.Records != nil {
		records := make([]model.AuditRecord, 0, len(env.Records))
		var errs []error
		for i, raw := range env.Records {
			rec, err := parseRecord(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("Records[%d]: %w", i, err))
				continue
			}
			records = append(records, rec)
		}
		return records, errs
	}

	if env.EventID == "" && env.EventName == "" {
		return nil, nil
	}

	rec, err := parseRecord([]byte(msg))
	if err != nil {
		return nil, []error{err}
	}
	return []model.AuditRecord{rec}, nil
}

func parseRecord(raw []byte) (model.AuditRecord, error) {
	var rec model.AuditRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return model.AuditRecord{}, err
	}
	if rec.EventID == "" {
		return model.AuditRecord{}, errMissingEventID
	}
	// 숫자는 json.Number 로 보존한다. float64 로 풀면 2^53 을 넘는 정수 ID 가 바뀐다.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rec.Raw); err != nil {
		return model.AuditRecord{}, err
	}
	return rec, nil
}

// looksLikeObject: 첫 번째 공백 아닌 문자가 '{' 인지.
func looksLikeObject(msg string) bool {
	for i := 0; i < len(msg); i++ {
		switch msg[i] {
		case ' ', '\t', '\n', '\r':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}

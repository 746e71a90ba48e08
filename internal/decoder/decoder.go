// Package decoder turns a CloudWatch Logs subscription payload into audit records.
package decoder

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"audit-enrich/internal/pool"

	"github.com/aws/aws-lambda-go/events"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// MaxDecompressedBytes 는 envelope 해제 후 허용하는 최대 크기.
// CloudWatch Logs 는 압축 전 1MB 단위로 배치를 만들지만 gzip bomb 방어용 상한을 둔다.
const MaxDecompressedBytes = 64 * 1024 * 1024

// controlMessage 는 subscription 생성 시 CloudWatch Logs 가 보내는 연결 확인 메시지 타입.
const controlMessage = "CONTROL_MESSAGE"

// DecodeError 는 envelope 자체가 깨진 경우. invocation 전체가 중단된다.
type DecodeError struct {
	Stage string // base64 / gzip / json
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode envelope (%s): %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode
//
// base64 → gzip 해제 → JSON 파싱 순서로 envelope 을 복원한다.
// CONTROL_MESSAGE 는 LogEvents 를 비운 채 정상 반환한다 (처리할 레코드 0건).
func Decode(raw events.CloudwatchLogsRawData) (*events.CloudwatchLogsData, error) {
	if raw.Data == "" {
		return nil, &DecodeError{Stage: "base64", Err: errors.New("empty payload")}
	}

	compressed, err := base64.StdEncoding.DecodeString(raw.Data)
	if err != nil {
		return nil, &DecodeError{Stage: "base64", Err: err}
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, &DecodeError{Stage: "gzip", Err: err}
	}
	defer zr.Close()

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	n, err := io.Copy(buf, io.LimitReader(zr, MaxDecompressedBytes+1))
	if err != nil {
		return nil, &DecodeError{Stage: "gzip", Err: err}
	}
	if n > MaxDecompressedBytes {
		return nil, &DecodeError{Stage: "gzip", Err: fmt.Errorf("payload exceeds %d bytes", MaxDecompressedBytes)}
	}

	var data events.CloudwatchLogsData
	if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
		return nil, &DecodeError{Stage: "json", Err: err}
	}

	if data.MessageType == controlMessage {
		data.LogEvents = nil
	}
	return &data, nil
}

// Encode 는 Decode 의 역연산. server 모드 테스트 / 재처리 도구에서 envelope 을 만들 때 쓴다.
func Encode(data events.CloudwatchLogsData) (events.CloudwatchLogsRawData, error) {
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	zw := pool.GzipPool.Get().(*gzip.Writer)
	zw.Reset(buf)
	defer pool.GzipPool.Put(zw)

	if err := json.NewEncoder(zw).Encode(data); err != nil {
		_ = zw.Close()
		return events.CloudwatchLogsRawData{}, err
	}
	if err := zw.Close(); err != nil {
		return events.CloudwatchLogsRawData{}, err
	}
	return events.CloudwatchLogsRawData{Data: base64.StdEncoding.EncodeToString(buf.Bytes())}, nil
}

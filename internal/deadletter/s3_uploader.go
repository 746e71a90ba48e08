// internal/deadletter/s3_uploader.go
package deadletter

import (
	"bytes"
	"context"
	"time"

	"audit-enrich/internal/backoff"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// S3API 는 s3.Client 중 업로더가 쓰는 부분.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader 는 dead letter 파일(JSONL.gz)을 S3 에 올린다.
//
// SDK 자체 retry 는 끄고(NopRetryer) 여기서 backoff.Policy 로 재시도한다.
// 모든 업로드는 ctx 기반(timeout + cancel-safe).
type S3Uploader struct {
	client  S3API
	bucket  string
	timeout time.Duration
	retry   backoff.Policy
}

func NewS3Uploader(client S3API, bucket string, timeout time.Duration, retry backoff.Policy) *S3Uploader {
	return &S3Uploader{
		client:  client,
		bucket:  bucket,
		timeout: timeout,
		retry:   retry,
	}
}

// UploadBytesWithRetryCtx
// -----------------------
// 메모리에 있는 gzip+JSONL 바이트를 S3 로 업로드한다.
// body 는 매 재시도마다 reader 를 새로 만들어야 하므로 bytes.NewReader 사용.
func (u *S3Uploader) UploadBytesWithRetryCtx(ctx context.Context, key string, body []byte) error {
	return u.retry.Retry(ctx,
		func(ctx context.Context, attempt int) error {
			return u.putObject(ctx, key, body)
		},
		func(attempt int, delay time.Duration, err error) {
			log.Warn().Err(err).
				Str("bucket", u.bucket).
				Str("key", key).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("dead letter upload failed, retrying")
		},
	)
}

// putObject
// ---------
// PutObject 1회 호출. 재시도는 caller 가 제어한다.
func (u *S3Uploader) putObject(ctx context.Context, key string, body []byte) error {
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(u.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentLength:   aws.Int64(int64(len(body))),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
	})
	return err
}

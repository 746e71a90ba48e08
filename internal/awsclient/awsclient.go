// Package awsclient loads the shared AWS configuration and builds the service
// clients used by the pipeline.
package awsclient

import (
	"context"
	"fmt"

	"audit-enrich/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Load 는 리전과 기본 자격증명 체인(Lambda 실행 role)으로 aws.Config 를 만든다.
func Load(ctx context.Context, cfg config.Config) (aws.Config, error) {
	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx, awsCfgLib.WithRegion(cfg.AWSRegion))
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return awsCfg, nil
}

// ---------------------------------------------------------------
// 재시도 정책
//
// 애플리케이션이 backoff.Policy 로 직접 재시도하는 클라이언트는 SDK retry 를 끈다.
// (RetryMaxAttempts=0 은 "SDK 기본값" 이라는 뜻이라 끄려면 NopRetryer 를 써야 한다)
//   - Organizations / S3 : NopRetryer (Resolver / DLQ 업로더가 재시도)
//   - DynamoDB           : 1회. 캐시 실패는 miss 로 처리하므로 빨리 포기하는 게 낫다
//   - CloudWatch         : SDK 기본값. 지표 전송은 앱에서 재시도하지 않는다
// ---------------------------------------------------------------

// NewOrganizations
//
// roleARN 이 있으면 관리 계정의 role 을 assume 해서 조회한다.
// (Organizations API 는 관리 계정 또는 위임된 관리자 계정에서만 호출 가능)
func NewOrganizations(awsCfg aws.Config, roleARN string) *organizations.Client {
	if roleARN != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsCfg), roleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = "audit-enrich"
		})
		awsCfg = awsCfg.Copy()
		awsCfg.Credentials = aws.NewCredentialsCache(provider)
	}
	return organizations.NewFromConfig(awsCfg, func(o *organizations.Options) {
		o.Retryer = aws.NopRetryer{}
	})
}

func NewDynamoDB(awsCfg aws.Config) *dynamodb.Client {
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		o.RetryMaxAttempts = 1
	})
}

func NewS3(awsCfg aws.Config) *s3.Client {
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.Retryer = aws.NopRetryer{}
	})
}

func NewCloudWatch(awsCfg aws.Config) *cloudwatch.Client {
	return cloudwatch.NewFromConfig(awsCfg)
}

package pipeline

import (
	"context"
	"fmt"

	"audit-enrich/internal/account"
	"audit-enrich/internal/awsclient"
	"audit-enrich/internal/backoff"
	"audit-enrich/internal/config"
	"audit-enrich/internal/deadletter"
	"audit-enrich/internal/indexer"
	"audit-enrich/internal/metrics"

	"github.com/rs/zerolog/log"
)

// NewFromConfig
//
// cold start 시 한 번 호출. AWS 클라이언트와 각 단계를 Config 대로 조립한다.
//   - ACCOUNT_CACHE_TABLE 이 비어 있으면 durable 캐시 없이 local → remote
//   - ENABLE_ACCOUNT_ENRICHMENT=false 면 Resolver 자체를 만들지 않는다
//   - DLQ_BUCKET 이 비어 있으면 부분 실패 문서는 로그/카운트만
//   - index template PUT 은 best-effort (실패해도 기동은 계속)
func NewFromConfig(ctx context.Context, cfg config.Config, totals *metrics.Metrics) (*Processor, error) {
	awsCfg, err := awsclient.Load(ctx, cfg)
	if err != nil {
		return nil, err
	}

	retry := backoff.Policy{
		MaxAttempts: cfg.MaxRetries,
		Base:        cfg.BackoffBase,
		Max:         cfg.BackoffMax,
	}

	osClient, err := indexer.NewClient(cfg.OpenSearchEndpoint, cfg.OpenSearchSigning, awsCfg)
	if err != nil {
		return nil, fmt.Errorf("opensearch client: %w", err)
	}
	ix := indexer.New(osClient, indexer.Config{
		IndexPrefix: cfg.IndexPrefix,
		MaxBytes:    cfg.BulkMaxBytes,
		Timeout:     cfg.BulkTimeout,
		Retry:       retry,
	})
	if cfg.EnsureIndexTemplate {
		if err := ix.EnsureTemplate(ctx); err != nil {
			log.Warn().Err(err).Msg("index template bootstrap failed, continuing")
		}
	}

	var resolver Resolver
	if cfg.EnableEnrichment {
		dir := account.NewOrgDirectory(awsclient.NewOrganizations(awsCfg, cfg.OrgRoleARN), cfg.EnableOrgContext)

		var durable account.DurableCache
		if cfg.AccountCacheTable != "" {
			durable = account.NewDynamoCache(awsclient.NewDynamoDB(awsCfg), cfg.AccountCacheTable, cfg.CacheTTL)
		}

		resolver = account.NewResolver(dir, durable, account.ResolverConfig{
			TTL:            cfg.CacheTTL,
			MaxEntries:     cfg.LocalCacheMaxEntries,
			Retry:          retry,
			AttemptTimeout: cfg.DirectoryTimeout,
		})
	}

	var reporter Reporter
	if cfg.EnableMetrics {
		reporter = metrics.NewReporter(awsclient.NewCloudWatch(awsCfg), cfg.MetricsNamespace, cfg.FunctionName)
	}

	var dlq DeadLetter
	if cfg.DLQBucket != "" {
		up := deadletter.NewS3Uploader(awsclient.NewS3(awsCfg), cfg.DLQBucket, cfg.S3Timeout, retry)
		dlq = deadletter.NewSink(up, cfg.DLQPrefix, cfg.InstanceID)
	}

	log.Info().
		Str("endpoint", cfg.OpenSearchEndpoint).
		Str("index_prefix", cfg.IndexPrefix).
		Bool("enrichment", cfg.EnableEnrichment).
		Bool("durable_cache", cfg.AccountCacheTable != "").
		Bool("metrics", cfg.EnableMetrics).
		Bool("dead_letter", cfg.DLQBucket != "").
		Msg("pipeline ready")

	return NewProcessor(resolver, ix, reporter, dlq, totals, Options{
		IndexPrefix:        cfg.IndexPrefix,
		ResolveConcurrency: cfg.ResolveConcurrency,
		DeadlineSafety:     cfg.DeadlineSafety,
	}), nil
}

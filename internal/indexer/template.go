package indexer

import (
	"bytes"
	"context"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// EnsureTemplate
//
// <prefix>-* 인덱스에 적용할 index template 을 PUT 한다 (있으면 덮어쓴다).
// 일 단위 인덱스가 처음 만들어질 때 keyword / date / ip 매핑이 적용되게 하기 위함.
func (b *BulkIndexer) EnsureTemplate(ctx context.Context) error {
	name := b.cfg.IndexPrefix + "-template"

	body, err := json.Marshal(indexTemplate(b.cfg.IndexPrefix))
	if err != nil {
		return err
	}

	res, err := b.client.Indices.PutIndexTemplate(
		name,
		bytes.NewReader(body),
		b.client.Indices.PutIndexTemplate.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("put index template %s: %w", name, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to create index template: %s - %s", res.Status(), truncate(string(msg), 512))
	}

	log.Info().Str("template", name).Msg("index template created/updated")
	return nil
}

func keyword() map[string]any { return map[string]any{"type": "keyword"} }

func indexTemplate(prefix string) map[string]any {
	return map[string]any{
		"index_patterns": []string{prefix + "-*"},
		"priority":       100,
		"template": map[string]any{
			"settings": map[string]any{
				"number_of_shards":   1,
				"number_of_replicas": 1,
				"refresh_interval":   "30s",
			},
			"mappings": map[string]any{
				"dynamic": true,
				"properties": map[string]any{
					"@timestamp": map[string]any{"type": "date"},
					"eventTime":  map[string]any{"type": "date"},
					"ingestedAt": map[string]any{"type": "date"},
					"eventName": map[string]any{
						"type": "text",
						"fields": map[string]any{
							"keyword": map[string]any{"type": "keyword", "ignore_above": 256},
						},
					},
					"eventNameNormalized": keyword(),
					"eventSource":         keyword(),
					"awsRegion":           keyword(),
					"sourceIPAddress":     map[string]any{"type": "ip", "ignore_malformed": true},
					"recipientAccountId":  keyword(),
					"accountId":           keyword(),
					"accountAlias":        keyword(),
					"accountType":         keyword(),
					"accountStatus":       keyword(),
					"organizationId":      keyword(),
					"organizationalUnit":  keyword(),
					"costCenter":          keyword(),
					"environment":         keyword(),
					"team":                keyword(),
					"businessUnit":        keyword(),
					"complianceLevel":     keyword(),
					"enrichmentFallback":  map[string]any{"type": "boolean"},
					"userIdentityType":    keyword(),
					"logGroup":            keyword(),
					"logStream":           keyword(),
					"userIdentity": map[string]any{
						"properties": map[string]any{
							"type":        keyword(),
							"principalId": keyword(),
							"arn":         keyword(),
							"accountId":   keyword(),
						},
					},
				},
			},
		},
	}
}

package indexer

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/signer/awsv2"
)

// NewClient
//
// OpenSearch 클라이언트 생성.
//   - signing=true 이면 실행 role 의 자격증명으로 SigV4 서명 (service "es", 정적 secret 없음)
//   - 클라이언트 자체 retry 는 끈다. 재시도 횟수는 BulkIndexer 의 backoff.Policy 로만 제어
func NewClient(endpoint string, signing bool, awsCfg aws.Config) (*opensearch.Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        32,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}

	osCfg := opensearch.Config{
		Addresses:    []string{endpoint},
		Transport:    transport,
		DisableRetry: true,
	}

	if signing {
		signer, err := awsv2.NewSignerWithService(awsCfg, "es")
		if err != nil {
			return nil, fmt.Errorf("create sigv4 signer: %w", err)
		}
		osCfg.Signer = signer
	}

	client, err := opensearch.NewClient(osCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}
	return client, nil
}

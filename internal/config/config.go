// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config
//
// 프로세스(Lambda cold start 또는 server 기동) 시점에 환경변수로부터 한 번 로드되는
// 불변(read-only) 설정 묶음. 이후 모든 invocation 이 같은 값을 공유한다.
type Config struct {

	// ---------------------------
	// 서비스 식별 / AWS 기본 환경
	// ---------------------------

	AWSRegion    string // AWS 리전 (예: ap-northeast-2)
	ServiceName  string // 로그 공통 필드 service
	InstanceID   string // 로그 공통 필드 instance (hostname 기반, 실패 시 랜덤 hex)
	FunctionName string // CloudWatch 지표 dimension (Lambda 함수명)

	// ---------------------------
	// 로깅
	// ---------------------------

	LogLevel   string // debug / info / warn / error
	LogPretty  bool   // true 면 ConsoleWriter (로컬 개발용)
	LogSampleN uint32 // Debug/Info 샘플링 비율 (N개 중 1개). 1 이하이면 샘플링 없음

	// ---------------------------
	// OpenSearch (Bulk Indexer)
	// ---------------------------

	OpenSearchEndpoint  string        // 클러스터 주소. scheme 이 없으면 https:// 를 붙인다
	OpenSearchSigning   bool          // SigV4 서명 여부 (로컬 OpenSearch 테스트 시 false)
	IndexPrefix         string        // 일 단위 인덱스 prefix (<prefix>-YYYY.MM.DD)
	EnsureIndexTemplate bool          // cold start 시 index template PUT 여부
	BulkTimeout         time.Duration // bulk 요청 1회 시도당 timeout
	BulkMaxBytes        int           // 요청 1건당 최대 payload 크기 (초과 시 분할)

	// ---------------------------
	// 계정 메타데이터 enrichment
	// ---------------------------

	EnableEnrichment     bool          // false 면 Resolver 를 우회한다
	EnableOrgContext     bool          // OU / Organization ID 조회 여부
	AccountCacheTable    string        // DynamoDB 캐시 테이블 (빈 값이면 durable tier 비활성)
	CacheTTL             time.Duration // 로컬 / durable 캐시 공통 TTL
	LocalCacheMaxEntries int           // 프로세스 로컬 캐시 최대 엔트리 수
	ResolveConcurrency   int           // 배치 내 고유 계정 동시 조회 수
	DirectoryTimeout     time.Duration // Organizations 조회 1회 시도당 timeout
	OrgRoleARN           string        // Organizations 조회용 assume role (관리 계정 role)

	// ---------------------------
	// Retry 정책 (Resolver / Indexer / DLQ 공통)
	// ---------------------------
	// SDK / 클라이언트 자체 retry 는 끄고, 횟수는 오직 MaxRetries 로만 제어한다.

	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// ---------------------------
	// 지표 (Metrics Reporter)
	// ---------------------------

	EnableMetrics    bool
	MetricsNamespace string

	// ---------------------------
	// Dead letter (partial bulk 실패 문서 보관, 선택)
	// ---------------------------

	DLQBucket string // 빈 값이면 log-and-count 만 수행
	DLQPrefix string
	S3Timeout time.Duration

	// ---------------------------
	// 실행 시간 예산
	// ---------------------------

	DeadlineSafety time.Duration // invocation deadline 에서 미리 빼두는 여유 시간

	// ---------------------------
	// server 모드 (cmd/server)
	// ---------------------------

	HTTPAddr       string
	MaxBodySize    int64
	RequestTimeout time.Duration // POST /ingest 1건 처리 예산 (Lambda timeout 역할)
}

// Load
//
// 환경 변수 기반으로 Config 를 초기화한다.
// 필수 env 가 비어있거나 형식이 잘못되면 즉시 프로세스를 종료(fail-fast).
func Load() Config {
	cfg, err := FromEnv(os.LookupEnv)
	if err != nil {
		log.Fatalf("[FATAL] config: %v", err)
	}
	return cfg
}

// FromEnv 는 lookup 함수로부터 Config 를 만든다. (테스트에서는 map 기반 lookup 사용)
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	e := &env{lookup: lookup}

	cfg := Config{
		AWSRegion:    e.must("AWS_REGION"),
		ServiceName:  e.optional("SERVICE_NAME", "audit-enrich"),
		InstanceID:   e.optional("INSTANCE_ID", fallbackInstanceID()),
		FunctionName: e.optional("AWS_LAMBDA_FUNCTION_NAME", "audit-enrich"),

		LogLevel:   e.optional("LOG_LEVEL", "info"),
		LogPretty:  e.optionalBool("LOG_PRETTY", false),
		LogSampleN: uint32(e.optionalInt("LOG_SAMPLE_N", 1)),

		OpenSearchEndpoint:  normalizeEndpoint(e.must("OPENSEARCH_DOMAIN_ENDPOINT")),
		OpenSearchSigning:   e.optionalBool("OPENSEARCH_SIGNING", true),
		IndexPrefix:         e.optional("INDEX_PREFIX", "cwl-multiaccounts"),
		EnsureIndexTemplate: e.optionalBool("ENSURE_INDEX_TEMPLATE", true),
		BulkTimeout:         e.optionalDur("BULK_TIMEOUT", 20*time.Second),
		BulkMaxBytes:        e.optionalInt("BULK_MAX_BYTES", 9*1024*1024),

		EnableEnrichment:     e.optionalBool("ENABLE_ACCOUNT_ENRICHMENT", true),
		EnableOrgContext:     e.optionalBool("ENABLE_ORG_CONTEXT", true),
		AccountCacheTable:    e.optional("ACCOUNT_CACHE_TABLE", ""),
		CacheTTL:             time.Duration(e.optionalInt("CACHE_TTL_HOURS", 24)) * time.Hour,
		LocalCacheMaxEntries: e.optionalInt("LOCAL_CACHE_MAX_ENTRIES", 10000),
		ResolveConcurrency:   e.optionalInt("RESOLVE_CONCURRENCY", 8),
		DirectoryTimeout:     e.optionalDur("DIRECTORY_TIMEOUT", 5*time.Second),
		OrgRoleARN:           e.optional("ORGANIZATIONS_ROLE_ARN", ""),

		MaxRetries:  e.optionalInt("MAX_RETRIES", 3),
		BackoffBase: e.optionalDur("BACKOFF_BASE", 200*time.Millisecond),
		BackoffMax:  e.optionalDur("BACKOFF_MAX", 5*time.Second),

		EnableMetrics:    e.optionalBool("ENABLE_METRICS", true),
		MetricsNamespace: e.optional("METRICS_NAMESPACE", "AuditEnrich"),

		DLQBucket: e.optional("DLQ_BUCKET", ""),
		DLQPrefix: e.optional("DLQ_PREFIX", "bulk-dlq"),
		S3Timeout: e.optionalDur("S3_TIMEOUT", 5*time.Second),

		DeadlineSafety: e.optionalDur("DEADLINE_SAFETY", 5*time.Second),

		HTTPAddr:       e.optional("HTTP_ADDR", ":8080"),
		MaxBodySize:    int64(e.optionalInt("MAX_BODY_SIZE", 6*1024*1024)),
		RequestTimeout: e.optionalDur("REQUEST_TIMEOUT", 60*time.Second),
	}

	if err := e.err(); err != nil {
		return Config{}, err
	}
	if cfg.MaxRetries < 1 {
		return Config{}, fmt.Errorf("MAX_RETRIES must be >= 1, got %d", cfg.MaxRetries)
	}
	if cfg.CacheTTL <= 0 {
		return Config{}, fmt.Errorf("CACHE_TTL_HOURS must be > 0")
	}
	if cfg.ResolveConcurrency < 1 {
		cfg.ResolveConcurrency = 1
	}
	return cfg, nil
}

// env
//
// must / optional* 공통 패턴.
// 첫 번째 오류만 기억해 두었다가 FromEnv 끝에서 한 번에 반환한다.
type env struct {
	lookup func(string) (string, bool)
	first  error
}

func (e *env) fail(format string, args ...any) {
	if e.first == nil {
		e.first = fmt.Errorf(format, args...)
	}
}

func (e *env) err() error { return e.first }

func (e *env) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) must(key string) string {
	v, ok := e.get(key)
	if !ok {
		e.fail("missing required env: %s", key)
	}
	return v
}

func (e *env) optional(key, def string) string {
	if v, ok := e.get(key); ok {
		return v
	}
	return def
}

func (e *env) optionalInt(key string, def int) int {
	v, ok := e.get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail("invalid int env %s=%q: %v", key, v, err)
		return def
	}
	return n
}

func (e *env) optionalBool(key string, def bool) bool {
	v, ok := e.get(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail("invalid bool env %s=%q: %v", key, v, err)
		return def
	}
	return b
}

func (e *env) optionalDur(key string, def time.Duration) time.Duration {
	v, ok := e.get(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail("invalid duration env %s=%q: %v", key, v, err)
		return def
	}
	return d
}

// normalizeEndpoint
//
// CDK output 의 domain endpoint 는 scheme 없이 host 만 내려온다.
// (예: search-xxx.ap-northeast-2.es.amazonaws.com)
func normalizeEndpoint(v string) string {
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
		v = "https://" + v
	}
	return strings.TrimRight(v, "/")
}

// fallbackInstanceID
//
// 이 프로세스를 식별하는 고유 값.
//   - 기본: hostname (Lambda 에서는 sandbox 마다 다름)
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

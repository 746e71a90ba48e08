// Package account resolves AWS account IDs to descriptive metadata through a
// process-local cache, a shared durable cache and the Organizations directory.
package account

import (
	"context"
	"strings"
	"time"

	"audit-enrich/internal/backoff"
	"audit-enrich/internal/metrics"
	"audit-enrich/internal/model"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Directory 는 3차(원격) 조회 대상.
type Directory interface {
	Lookup(ctx context.Context, accountID string) (DirectoryEntry, error)
}

// DurableCache 는 2차 캐시. 구현체는 DynamoCache.
type DurableCache interface {
	Get(ctx context.Context, accountID string) (CachedMetadata, bool, error)
	Put(ctx context.Context, meta model.AccountMetadata) error
	Delete(ctx context.Context, accountID string) error
}

// CachedMetadata 는 durable 캐시 1건과 그 기록 시각.
// 로컬로 승격할 때 CachedAt 을 그대로 이어받아 전체 staleness 가 TTL 을 넘지 않게 한다.
type CachedMetadata struct {
	Meta     model.AccountMetadata
	CachedAt time.Time
}

type ResolverConfig struct {
	TTL            time.Duration
	MaxEntries     int
	Retry          backoff.Policy
	AttemptTimeout time.Duration // 원격 조회 시퀀스 1회당 timeout. 0 이면 ctx 만 따른다
}

// Resolver
//
// Resolve 는 절대 에러를 반환하지 않는다. 어떤 단계가 실패해도
// 최종적으로 fallback 메타데이터를 돌려주고 문서 색인은 계속된다.
//
//	local hit  → 반환
//	durable hit → local 로 승격 후 반환 (cachedAt 유지)
//	remote 성공 → local + durable 기록 후 반환
//	remote 소진 → fallback (어느 캐시에도 기록하지 않음)
//
// 같은 계정에 대한 동시 miss 는 singleflight 로 원격 조회 1회로 합친다.
// 공유 조회는 특정 호출자의 deadline 에 묶이지 않고(retry 정책 / AttemptTimeout 으로만 제한),
// 각 호출자는 자기 ctx 로만 기다린다.
type Resolver struct {
	local   *LocalCache
	durable DurableCache
	dir     Directory
	cfg     ResolverConfig

	group singleflight.Group
	now   func() time.Time
}

// NewResolver: durable 은 nil 가능 (테이블 미설정 시 2단계 캐시).
func NewResolver(dir Directory, durable DurableCache, cfg ResolverConfig) *Resolver {
	return &Resolver{
		local:   NewLocalCache(cfg.TTL, cfg.MaxEntries),
		durable: durable,
		dir:     dir,
		cfg:     cfg,
		now:     time.Now,
	}
}

// missResult 는 공유 조회 1회의 결과와 그 과정에서 거친 단계.
// 조회에 참여한 모든 invocation 이 자기 카운터에 같은 값을 기록한다.
type missResult struct {
	meta        model.AccountMetadata
	durableHit  bool
	durableMiss bool
	durableErr  bool
	remote      bool
}

func (m missResult) record(inv *metrics.Invocation) {
	if m.durableHit {
		inv.IncDurableHit()
	}
	if m.durableMiss {
		inv.IncDurableMiss()
	}
	if m.durableErr {
		inv.IncDurableError()
	}
	if m.remote {
		inv.IncRemoteCall()
	}
}

// Resolve
func (r *Resolver) Resolve(ctx context.Context, accountID string, inv *metrics.Invocation) model.AccountMetadata {
	if !validAccountID(accountID) {
		inv.IncFallback()
		log.Debug().Str("account_id", accountID).Msg("account id not resolvable, using fallback")
		return model.FallbackMetadata(accountID, r.now())
	}

	if meta, ok := r.local.Get(accountID); ok {
		inv.IncLocalHit()
		return meta
	}
	inv.IncLocalMiss()

	for round := 0; ; round++ {
		if ctx.Err() != nil {
			return r.abandon(accountID, inv, ctx.Err())
		}

		led := false
		ch := r.group.DoChan(accountID, func() (any, error) {
			led = true
			return r.resolveMiss(context.WithoutCancel(ctx), accountID), nil
		})

		select {
		case <-ctx.Done():
			return r.abandon(accountID, inv, ctx.Err())
		case res := <-ch:
			mr := res.Val.(missResult)
			mr.record(inv)
			// 남의 조회가 실패한 결과는 물려받지 않고 한 번은 직접 조회한다.
			if mr.meta.Fallback && !led && round == 0 {
				if meta, ok := r.local.Get(accountID); ok {
					return meta
				}
				continue
			}
			if mr.meta.Fallback {
				inv.IncFallback()
			}
			return mr.meta
		}
	}
}

// abandon: 호출자 ctx 가 먼저 끝났다. 공유 조회는 계속 돌아 캐시를 채운다.
func (r *Resolver) abandon(accountID string, inv *metrics.Invocation, err error) model.AccountMetadata {
	inv.IncFallback()
	log.Warn().Err(err).Str("account_id", accountID).Msg("resolve budget exhausted, using fallback metadata")
	return model.FallbackMetadata(accountID, r.now())
}

func (r *Resolver) resolveMiss(ctx context.Context, accountID string) missResult {
	lg := log.With().Str("account_id", accountID).Logger()
	var mr missResult

	// 2차: durable
	if r.durable != nil {
		cached, ok, err := r.durable.Get(ctx, accountID)
		switch {
		case err != nil:
			mr.durableErr = true
			mr.durableMiss = true
			lg.Warn().Err(err).Msg("durable cache read failed, treating as miss")
		case ok:
			mr.durableHit = true
			r.local.PutAt(cached.Meta, cached.CachedAt)
			mr.meta = cached.Meta
			return mr
		default:
			mr.durableMiss = true
		}
	}

	// 3차: remote
	mr.remote = true
	var entry DirectoryEntry
	err := r.cfg.Retry.Retry(ctx,
		func(ctx context.Context, attempt int) error {
			actx, cancel := r.attemptContext(ctx)
			defer cancel()
			e, err := r.dir.Lookup(actx, accountID)
			if err != nil {
				return err
			}
			entry = e
			return nil
		},
		func(attempt int, delay time.Duration, err error) {
			lg.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("directory lookup failed, retrying")
		},
	)
	if err != nil {
		lg.Warn().Err(err).Msg("directory lookup exhausted, using fallback metadata")
		mr.meta = model.FallbackMetadata(accountID, r.now())
		return mr
	}

	mr.meta = BuildMetadata(entry, r.now())
	r.local.Put(mr.meta)
	if r.durable != nil {
		if err := r.durable.Put(ctx, mr.meta); err != nil {
			lg.Warn().Err(err).Msg("durable cache write failed")
		}
	}
	return mr
}

func (r *Resolver) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.AttemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.AttemptTimeout)
}

// Invalidate 는 두 캐시 모두에서 계정을 지운다. 다음 Resolve 는 원격 조회를 한다.
func (r *Resolver) Invalidate(ctx context.Context, accountID string) error {
	r.local.Delete(accountID)
	if r.durable == nil {
		return nil
	}
	return r.durable.Delete(ctx, accountID)
}

// validAccountID: AWS 계정 ID 는 12자리 숫자.
func validAccountID(id string) bool {
	if len(id) != 12 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

// ---------------------------------------------------------------
// DirectoryEntry → AccountMetadata
// ---------------------------------------------------------------

// tagLookup 은 태그 키를 소문자 + '-' '_' 제거로 정규화해서 찾는다.
// (Environment / environment / ENV / cost-center / CostCenter 모두 같은 키)
type tagLookup map[string]string

func newTagLookup(tags map[string]string) tagLookup {
	t := make(tagLookup, len(tags))
	for k, v := range tags {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		t[normalizeTagKey(k)] = v
	}
	return t
}

var tagKeyReplacer = strings.NewReplacer("-", "", "_", "", " ", "")

func normalizeTagKey(k string) string {
	return tagKeyReplacer.Replace(strings.ToLower(strings.TrimSpace(k)))
}

// first 는 keys 중 처음으로 값이 있는 태그를 반환한다.
func (t tagLookup) first(keys ...string) string {
	for _, k := range keys {
		if v, ok := t[k]; ok {
			return v
		}
	}
	return ""
}

// BuildMetadata
//
// 우선순위:
//   - alias:       Alias/AccountAlias 태그 → Name 태그 → 계정 이름 → 계정 ID
//   - environment: Environment/Env 태그 → AccountType 태그 → 이름 휴리스틱
//   - accountType: 알려진 AccountType 태그 → environment 분류 → 이름 분류 → unknown
func BuildMetadata(e DirectoryEntry, now time.Time) model.AccountMetadata {
	tags := newTagLookup(e.Tags)

	alias := tags.first("alias", "accountalias")
	if alias == "" {
		alias = tags.first("name")
	}
	if alias == "" {
		alias = strings.TrimSpace(e.Name)
	}
	if alias == "" {
		alias = e.AccountID
	}

	nameKind := Classify(e.Name)
	if nameKind == model.AccountTypeUnknown {
		nameKind = Classify(alias)
	}

	environment := tags.first("environment", "env")
	if environment == "" {
		environment = tags.first("accounttype")
	}
	if environment == "" && nameKind != model.AccountTypeUnknown {
		environment = string(nameKind)
	}
	if environment == "" {
		environment = "unknown"
	}

	kind, ok := ParseAccountType(tags.first("accounttype"))
	if !ok {
		kind = Classify(environment)
	}
	if kind == model.AccountTypeUnknown {
		kind = nameKind
	}

	status := e.Status
	if status == "" {
		status = "unknown"
	}

	return model.AccountMetadata{
		AccountID:          e.AccountID,
		Alias:              alias,
		AccountType:        kind,
		OrganizationalUnit: e.OrganizationalUnit,
		OrganizationID:     e.OrganizationID,
		CostCenter:         tags.first("costcenter"),
		Environment:        environment,
		Team:               tags.first("team", "owner"),
		BusinessUnit:       tags.first("businessunit"),
		ComplianceLevel:    tags.first("compliancelevel", "compliance"),
		Status:             status,
		LastUpdated:        now.UTC(),
	}
}

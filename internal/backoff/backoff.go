// Package backoff implements the capped, jittered exponential retry loop
// shared by the account resolver, the bulk indexer and the dead-letter uploader.
package backoff

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// Policy
//
// attempt n(1부터) 실패 후 대기 시간의 상한(ceiling)은 min(Max, Base*2^(n-1)).
// 실제 대기는 [ceiling/2, ceiling) 구간의 equal jitter 로, 기대값이 ceiling 에 비례하므로
// 시도 횟수에 대해 단조 증가하고 Max 를 넘지 않는다.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration

	// Rand 는 [0,1) 난수. nil 이면 math/rand/v2.
	Rand func() float64
}

// Ceiling 은 jitter 를 적용하기 전 attempt 번째 실패 후의 대기 상한.
func (p Policy) Ceiling(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Max || d <= 0 {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// Delay 는 jitter 가 적용된 실제 대기 시간.
func (p Policy) Delay(attempt int) time.Duration {
	c := p.Ceiling(attempt)
	if c <= 0 {
		return 0
	}
	r := rand.Float64
	if p.Rand != nil {
		r = p.Rand
	}
	half := c / 2
	return half + time.Duration(r()*float64(c-half))
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent 로 감싼 에러는 재시도하지 않는다. (예: AccountNotFoundException)
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retry
//
// op 를 최대 MaxAttempts 회 실행한다.
//   - 성공하면 nil
//   - Permanent 에러면 즉시 중단하고 원래 에러 반환
//   - ctx 취소 시 즉시 중단
//   - ctx deadline 안에 다음 대기를 마칠 수 없으면 더 기다리지 않고 마지막 에러 반환
//     (누적 backoff 가 invocation timeout 을 넘지 않게 하기 위함)
//
// onRetry 는 재시도 직전(대기 전)에 호출된다. nil 가능.
func (p Policy) Retry(
	ctx context.Context,
	op func(ctx context.Context, attempt int) error,
	onRetry func(attempt int, delay time.Duration, err error),
) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return lastErr
			}
			return ctx.Err()
		default:
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) <= delay {
			return lastErr
		}
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return lastErr
		case <-t.C:
		}
	}
	return lastErr
}

// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"audit-enrich/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// 프로세스 시작 시 한 번만 호출되는 로거 초기화 함수.
//
//  1. 로그 포맷 전환
//     - LOG_PRETTY=true  : ConsoleWriter (로컬 개발용)
//     - LOG_PRETTY=false : JSON (CloudWatch Logs Insights 검색용)
//  2. 모든 로그에 service / instance 공통 필드를 붙인다.
//  3. Debug/Info 는 LOG_SAMPLE_N 에 따라 샘플링, Warn/Error 는 100% 기록.
func Init(cfg config.Config) {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	var w io.Writer
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	} else {
		w = os.Stdout
	}

	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	logger := base
	if cfg.LogSampleN > 1 {
		logger = base.Sample(&zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},
		})
	}

	zlog.Logger = logger

	// 표준 log 패키지 출력도 zerolog 로 돌린다.
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}

// ForInvocation 은 invocation 단위 공통 필드가 붙은 sub-logger 를 만든다.
// 배치 하나를 처리하는 동안 찍히는 모든 로그를 request_id 로 묶어 볼 수 있다.
func ForInvocation(requestID, owner, logGroup string) zerolog.Logger {
	return zlog.Logger.With().
		Str("request_id", requestID).
		Str("owner", owner).
		Str("log_group", logGroup).
		Logger()
}

package server

import (
	"net"
	"net/http"
	"strings"
)

// ------------------------------------------------------------
// IP Utility Functions
//
// server 모드는 ALB 뒤에서 log forwarder(Firehose 변환기, 재처리 스크립트 등)의
// 요청을 받는다. 호출자 IP 는 로그 필드로만 쓰며 인가 판단에는 쓰지 않는다.
// ------------------------------------------------------------

// isPublicIP:
//   - private / loopback / link-local 이 아닌 경우 true
//   - X-Forwarded-For 에서 ALB 등 내부 hop 을 건너뛰기 위해 필요
func isPublicIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsPrivate() {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}
	return true
}

// safeParseIP: 공백/빈 값/잘못된 값이면 nil.
func safeParseIP(s string) net.IP {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return net.ParseIP(s)
}

// ------------------------------------------------------------
// clientIP:
//
// 우선순위:
//  1. X-Forwarded-For → 첫 번째 public IP
//  2. RemoteAddr (VPC 내부 호출자는 private IP 그대로)
// ------------------------------------------------------------
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := safeParseIP(part); isPublicIP(ip) {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := safeParseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}

package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"

	"go.uber.org/zap"
)

type peerAddrKey struct{}

// PeerAddr запоминает адрес сокета до того, как RealIP перепишет RemoteAddr
// по заголовкам X-Real-IP и X-Forwarded-For. Должен стоять раньше RealIP.
func PeerAddr(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), peerAddrKey{}, r.RemoteAddr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func peerAddr(r *http.Request) string {
	if addr, ok := r.Context().Value(peerAddrKey{}).(string); ok {
		return addr
	}
	return r.RemoteAddr
}

// AllowIPs пропускает только запросы с адресов сокета из prefixes; заголовки
// прокси не учитываются. Пустой список пропускает всех. Запрос с чужого адреса
// получает такой же ответ 200 OK, как и обработанное уведомление, и только логируется.
func AllowIPs(prefixes []netip.Prefix, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(prefixes) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			peer := peerAddr(r)
			addr, ok := remoteAddr(peer)
			if !ok || !contains(prefixes, addr) {
				logger.Warn("request from address outside allowlist",
					zap.String("peer", peer),
					zap.String("remote", r.RemoteAddr),
					zap.String("uri", r.RequestURI),
				)
				w.Header().Set("Content-Type", "text/plain")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("OK"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func remoteAddr(remote string) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

func contains(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Package middleware provides HTTP middleware for authentication and request logging.
package middleware

import (
	"context"
	"crypto/subtle"
	"strings"

	pkglog "github.com/API-Bridge/BE-SystemManagementService-sub000/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// Auth 返回管理接口的认证中间件
// token 为空时不做校验（本地开发）；否则要求 Authorization: Bearer <token> 或 X-Admin-Token
func Auth(token string, logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		if token == "" {
			return handler
		}
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			var presented, path string
			if tr, ok := transport.FromServerContext(ctx); ok {
				presented = extractToken(tr.RequestHeader())
				path = tr.Operation()
				if ht, ok := tr.(http.Transporter); ok {
					path = ht.Request().URL.Path
				}
			}

			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				logger.Warnw("msg", "Rejected admin request",
					"type", "auth",
					"path", path,
					"token_masked", maskToken(presented),
				)
				return nil, errors.Unauthorized("UNAUTHORIZED", "missing or invalid admin token")
			}
			return handler(ctx, req)
		}
	}
}

func extractToken(h transport.Header) string {
	if auth := h.Get("Authorization"); auth != "" {
		// 支持 "Bearer {token}" 格式
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(h.Get("X-Admin-Token"))
}

// maskToken 脱敏，仅显示前 4 位
func maskToken(t string) string {
	if len(t) <= 4 {
		return strings.Repeat("*", len(t))
	}
	return t[:4] + "***"
}

package middleware

import (
	"context"
	"strings"
	"time"

	pkglog "github.com/API-Bridge/BE-SystemManagementService-sub000/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/uuid"
)

// Logging 返回记录请求日志的中间件
// 透传或生成 X-Request-ID，并记录方法、路径、状态码和耗时
//
// 日志输出示例:
//
//	🟢 POST /v1/probes/run - 200 (3ms) | {"type":"request","request_id":"..."}
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var method, path, ip, requestID, operation string
			if tr, ok := transport.FromServerContext(ctx); ok {
				operation = tr.Operation()
				method, path = "RPC", operation
				requestID = tr.RequestHeader().Get("X-Request-ID")

				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					if httpReq.URL.RawQuery != "" {
						path = path + "?" + httpReq.URL.RawQuery
					}
					ip = extractClientIP(httpReq)
				}
				if requestID == "" {
					requestID = uuid.NewString()
				}
				tr.ReplyHeader().Set("X-Request-ID", requestID)
			}

			reply, err := handler(ctx, req)

			duration := time.Since(startTime).Milliseconds()
			status := 200
			if err != nil {
				status = int(errors.FromError(err).Code)
			}

			logger.Request(method, path, status, duration,
				"request_id", requestID,
				"operation", operation,
				"ip", ip,
			)
			return reply, err
		}
	}
}

// extractClientIP 优先级: X-Real-IP > X-Forwarded-For > RemoteAddr
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}
	return req.RemoteAddr
}

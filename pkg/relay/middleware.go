/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package relay

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// RequestIDHeader is the HTTP header carrying the request ID
	RequestIDHeader = "X-Request-ID"
	// LoggerKey is the Gin context key for the request-scoped logger
	LoggerKey = "logger"
)

// RequestIDMiddleware tags every request with an ID, taken from the request header
// when present, and stores a logger carrying it in the context.
func RequestIDMiddleware(baseLogger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set(LoggerKey, baseLogger.With(zap.String("request_id", requestID)))
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

// GetLogger returns the request-scoped logger or fallback
func GetLogger(c *gin.Context, fallback *zap.Logger) *zap.Logger {
	if logger, exists := c.Get(LoggerKey); exists {
		if l, ok := logger.(*zap.Logger); ok {
			return l
		}
	}
	return fallback
}

// LoggingMiddleware logs each HTTP request once it completes.
// Upgraded WebSocket requests complete when the socket closes.
func LoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		GetLogger(c, logger).Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

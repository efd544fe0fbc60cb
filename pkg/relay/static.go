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
	"errors"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/calebbergman/blog-uws-websockets/pkg/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DefaultContentType is served for unknown extensions
const DefaultContentType = "application/octet-stream"

// IndexFile is served for the root resource
const IndexFile = "index.html"

var contentTypes = map[string]string{
	"html": "text/html",
	"js":   "text/javascript",
	"json": "application/json",
	"css":  "text/css",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"svg":  "image/svg+xml",
}

var errOutsideRoot = errors.New("path escapes static root")

// ContentType returns the content type for a requested resource based on its extension.
// The root resource "/" is treated as html.
func ContentType(resource string) string {
	if resource == "/" {
		return contentTypes["html"]
	}
	ext := strings.TrimPrefix(path.Ext(resource), ".")
	if ct, ok := contentTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	return DefaultContentType
}

// resolveStatic maps a request path onto a file below root
func resolveStatic(root, reqPath string) (string, error) {
	if reqPath == "" || reqPath == "/" {
		reqPath = "/" + IndexFile
	}
	if strings.Contains(reqPath, "\x00") {
		return "", errOutsideRoot
	}
	for _, seg := range strings.Split(filepath.ToSlash(reqPath), "/") {
		if seg == ".." {
			return "", errOutsideRoot
		}
	}

	cleaned := path.Clean("/" + reqPath)
	full := filepath.Join(root, filepath.FromSlash(cleaned))

	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideRoot
	}
	return full, nil
}

// serveStatic answers GET and HEAD requests from the static directory
func (s *Server) serveStatic(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		s.staticStatus(c, http.StatusMethodNotAllowed)
		return
	}
	if s.config.StaticDir == "" {
		s.staticStatus(c, http.StatusNotFound)
		return
	}

	reqPath := c.Request.URL.Path
	file, err := resolveStatic(s.config.StaticDir, reqPath)
	if err != nil {
		s.logger.Warn("Rejected static path", zap.String("path", reqPath), zap.Error(err))
		s.staticStatus(c, http.StatusNotFound)
		return
	}

	info, err := os.Stat(file)
	if err != nil || info.IsDir() {
		s.staticStatus(c, http.StatusNotFound)
		return
	}

	data, err := os.ReadFile(file)
	if err != nil {
		s.logger.Error("Failed to read static file", zap.String("file", file), zap.Error(err))
		s.staticStatus(c, http.StatusInternalServerError)
		return
	}

	metrics.StaticRequestsTotal.WithLabelValues(strconv.Itoa(http.StatusOK)).Inc()
	c.Data(http.StatusOK, ContentType(file), data)
}

func (s *Server) staticStatus(c *gin.Context, status int) {
	metrics.StaticRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	c.AbortWithStatus(status)
}

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
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/calebbergman/blog-uws-websockets/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestContentType(t *testing.T) {
	tests := []struct {
		resource string
		expected string
	}{
		{"/", "text/html"},
		{"/index.html", "text/html"},
		{"/app.js", "text/javascript"},
		{"/data/config.json", "application/json"},
		{"/style.css", "text/css"},
		{"/photo.jpg", "image/jpeg"},
		{"/photo.jpeg", "image/jpeg"},
		{"/PHOTO.PNG", "image/png"},
		{"/logo.svg", "image/svg+xml"},
		{"/archive.tar.gz", "application/octet-stream"},
		{"/README", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.resource, func(t *testing.T) {
			assert.Equal(t, tt.expected, ContentType(tt.resource))
		})
	}
}

func TestResolveStatic(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name     string
		reqPath  string
		expected string
		wantErr  bool
	}{
		{"root maps to index", "/", filepath.Join(root, "index.html"), false},
		{"nested file", "/css/site.css", filepath.Join(root, "css", "site.css"), false},
		{"parent segment", "/../secret.txt", "", true},
		{"parent after subdir", "/css/../../secret.txt", "", true},
		{"nul byte", "/index.html\x00.png", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveStatic(root, tt.reqPath)
			if tt.wantErr {
				assert.ErrorIs(t, err, errOutsideRoot)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func newStaticServer(t *testing.T) *Server {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>relay</h1>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.js"), []byte("console.log(1)"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(root, "img"), 0o700))

	cfg := config.Default().Server
	cfg.StaticDir = root
	return NewServer(&cfg, zap.NewNop())
}

func TestServeStatic(t *testing.T) {
	s := newStaticServer(t)

	tests := []struct {
		name        string
		method      string
		path        string
		status      int
		contentType string
		body        string
	}{
		{"index", http.MethodGet, "/", http.StatusOK, "text/html", "<h1>relay</h1>"},
		{"script", http.MethodGet, "/app.js", http.StatusOK, "text/javascript", "console.log(1)"},
		{"missing", http.MethodGet, "/missing.png", http.StatusNotFound, "", ""},
		{"directory", http.MethodGet, "/img", http.StatusNotFound, "", ""},
		{"traversal", http.MethodGet, "/../config.go", http.StatusNotFound, "", ""},
		{"post", http.MethodPost, "/app.js", http.StatusMethodNotAllowed, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, tt.path, nil)
			s.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.contentType != "" {
				assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
			}
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestServeStatic_NoStaticDir(t *testing.T) {
	cfg := config.Default().Server
	cfg.StaticDir = ""
	s := NewServer(&cfg, zap.NewNop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	s := newStaticServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))
}

package webloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	l, err := NewWithConfig(Config{BaseURL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, l.config.MaxDepth)
	assert.Equal(t, 2.0, l.config.RateLimit)
	assert.Equal(t, 30*time.Second, l.config.Timeout)
}

func TestShouldProcessURL(t *testing.T) {
	l, err := NewWithConfig(Config{
		BaseURL:           "https://example.com",
		IgnorePatterns:    []string{"/ignore/", "private"},
		AllowedExtensions: []string{".html", "/"},
	})
	require.NoError(t, err)

	tests := []struct {
		url      string
		expected bool
	}{
		{"https://example.com/docs/", true},
		{"https://example.com/page.html", true},
		{"https://example.com/ignore/page.html", false},
		{"https://other-domain.com/page.html", false},
		{"https://example.com/file.pdf", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.expected, l.shouldProcessURL(tt.url))
		})
	}
}

func TestLoadWithMockServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/":
			w.Write([]byte(`
				<html>
					<head><title>Index</title></head>
					<body>
						<main>Welcome to the documentation.</main>
						<a href="/guide/">Guide</a>
						<a href="https://elsewhere.example/off-host">External</a>
					</body>
				</html>`))
		case "/guide/":
			w.Write([]byte(`
				<html>
					<head><title>Guide</title></head>
					<body><article>Detailed guide content.</article></body>
				</html>`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	var visited []string
	l, err := NewWithConfig(Config{
		BaseURL:    server.URL + "/",
		MaxDepth:   1,
		RateLimit:  100,
		OnProgress: func(url string) { visited = append(visited, url) },
	})
	require.NoError(t, err)

	pages, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, pages, 2)

	assert.Equal(t, "Index", pages[0].Title)
	assert.Equal(t, "Welcome to the documentation.", pages[0].Content)
	assert.Equal(t, "Guide", pages[1].Title)
	assert.Equal(t, "Detailed guide content.", pages[1].Content)
	assert.Len(t, visited, 2, "off-host link must not be followed")
}

func TestLoadDoesNotRevisit(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`
			<html><head><title>Loop</title></head>
			<body><main>Self-linking page.</main><a href="/">Home</a></body></html>`))
	}))
	defer server.Close()

	l, err := NewWithConfig(Config{BaseURL: server.URL + "/", MaxDepth: 3, RateLimit: 100})
	require.NoError(t, err)

	pages, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, pages, 1)
	assert.Equal(t, 1, hits)
}

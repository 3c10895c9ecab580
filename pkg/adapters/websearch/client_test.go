package websearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Deal News</title>
<item>
  <title>Acme Corp announces merger talks</title>
  <description>Sources say Acme is in advanced talks.</description>
  <link>https://news.example.com/acme-merger</link>
</item>
<item>
  <title>Unrelated headline</title>
  <description>Nothing to see here.</description>
  <link>https://news.example.com/other</link>
</item>
</channel></rss>`

func TestSearchMatchesFeedItemsCaseInsensitively(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	c := New([]string{srv.URL}, "", nil)
	results, err := c.Search(context.Background(), "acme")
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Contains(t, results[0], "Acme Corp announces merger talks")
}

func TestSearchSkipsUnreachableFeedWithoutFailing(t *testing.T) {
	c := New([]string{"http://127.0.0.1:1"}, "", nil)
	results, err := c.Search(context.Background(), "acme")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchScrapesPageWhenConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
			<a class="headline" href="/a">Acme deal clears antitrust review</a>
			<a class="headline" href="/b">Weather report</a>
		</body></html>`))
	}))
	defer srv.Close()

	c := New(nil, srv.URL, nil)
	results, err := c.Search(context.Background(), "acme")
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Contains(t, results[0], "Acme deal clears antitrust review")
	assert.Contains(t, results[0], "/a")
}

func TestMatchesIsCaseInsensitiveAndHandlesEmpty(t *testing.T) {
	assert.True(t, matches("Acme Corp", "acme"))
	assert.False(t, matches("", "acme"))
	assert.False(t, matches("Acme Corp", ""))
}

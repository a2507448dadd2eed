package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verity/internal/evidence/sources"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status   int
		kind     sources.ErrorKind
		category sources.ErrorCategory
	}{
		{http.StatusNotFound, sources.KindPermanent, sources.ErrorNotFound},
		{http.StatusTooManyRequests, sources.KindTransient, sources.ErrorRateLimited},
		{http.StatusGatewayTimeout, sources.KindTransient, sources.ErrorTimeout},
		{http.StatusInternalServerError, sources.KindTransient, sources.ErrorProviderOutage},
		{http.StatusServiceUnavailable, sources.KindTransient, sources.ErrorProviderOutage},
		{http.StatusUnauthorized, sources.KindPermanent, sources.ErrorAuthentication},
		{http.StatusForbidden, sources.KindPermanent, sources.ErrorAuthentication},
		{http.StatusBadRequest, sources.KindPermanent, sources.ErrorInvalidInput},
		{http.StatusUnprocessableEntity, sources.KindPermanent, sources.ErrorInvalidInput},
		{http.StatusConflict, sources.KindPermanent, sources.ErrorContractMismatch},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := ClassifyStatus("test", tt.status, nil)
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.category, err.Category)
		})
	}
}

func TestClassifyStatusTruncatesBodyOnRuneBoundary(t *testing.T) {
	body := strings.Repeat("a", maxSnippetSize-1) + "é" + strings.Repeat("b", 50)

	err := ClassifyStatus("test", http.StatusBadGateway, []byte(body))

	require.True(t, utf8.ValidString(err.Message), "message must stay valid UTF-8")
	assert.Equal(t, "upstream returned 502: "+strings.Repeat("a", maxSnippetSize-1), err.Message)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "", truncate("é", 1))
	assert.Equal(t, "xé", truncate("xéy", 3))
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
			assert.Equal(t, "1", r.URL.Query().Get("page"))
			_, _ = w.Write([]byte(`{"value":"hello"}`))
		case "/garbage":
			_, _ = w.Write([]byte(`{not json`))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := New("test", srv.URL+"/", WithHeader("X-Api-Key", "secret"))
	ctx := context.Background()

	t.Run("decodes success", func(t *testing.T) {
		var out struct{ Value string }
		require.NoError(t, c.GetJSON(ctx, "/ok", map[string][]string{"page": {"1"}}, &out))
		assert.Equal(t, "hello", out.Value)
	})

	t.Run("malformed body is permanent bad data", func(t *testing.T) {
		var out struct{}
		err := c.GetJSON(ctx, "/garbage", nil, &out)
		assert.Equal(t, sources.ErrorBadData, sources.GetCategory(err))
		assert.False(t, sources.IsRetryable(err))
	})

	t.Run("5xx is transient", func(t *testing.T) {
		err := c.GetJSON(ctx, "/other", nil, nil)
		assert.True(t, sources.IsRetryable(err))
	})

	t.Run("deadline is a transient timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		err := c.GetJSON(ctx, "/slow", nil, nil)
		assert.True(t, sources.IsRetryable(err))
		assert.Equal(t, sources.ErrorTimeout, sources.GetCategory(err))
	})

	t.Run("connection refused is transient", func(t *testing.T) {
		dead := New("test", "http://127.0.0.1:1")
		err := dead.GetJSON(ctx, "/", nil, nil)
		assert.True(t, sources.IsRetryable(err))
	})
}

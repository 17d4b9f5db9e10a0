package classifier_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodrescue/internal/adapters/classifier"
	"foodrescue/internal/ports"
)

func TestClassify_PostsRequestAndReturnsBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"isSafe":true}`))
	}))
	defer srv.Close()

	c := classifier.New(srv.URL, "secret", classifier.WithModel("food-v2"))
	raw, err := c.Classify(context.Background(), ports.ClassificationRequest{ImageBase64: "aGk=", Prompt: "Food name: Nasi"})
	require.NoError(t, err)

	assert.JSONEq(t, `{"isSafe":true}`, string(raw))
	assert.Equal(t, "food-v2", got["model"])
	assert.Equal(t, "aGk=", got["imageBase64"])
	assert.Equal(t, "Food name: Nasi", got["promptContext"])
}

func TestClassify_NoKeyNoHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := classifier.New(srv.URL, "").Classify(context.Background(), ports.ClassificationRequest{Prompt: "p"})
	assert.NoError(t, err)
}

func TestClassify_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}},
		{"empty body", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			_, err := classifier.New(srv.URL, "k").Classify(context.Background(), ports.ClassificationRequest{Prompt: "p"})
			assert.Error(t, err)
		})
	}
}

func TestClassify_HonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := classifier.New(srv.URL, "k").Classify(ctx, ports.ClassificationRequest{Prompt: "p"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func slowServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(delay):
		}
		_, _ = w.Write([]byte(`{"isSafe":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClassify_NoDeadlineByDefault(t *testing.T) {
	srv := slowServer(t, 300*time.Millisecond)

	raw, err := classifier.New(srv.URL, "").Classify(context.Background(), ports.ClassificationRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"isSafe":true}`, string(raw))
}

func TestClassify_WithTimeout(t *testing.T) {
	srv := slowServer(t, 2*time.Second)

	_, err := classifier.New(srv.URL, "", classifier.WithTimeout(50*time.Millisecond)).
		Classify(context.Background(), ports.ClassificationRequest{Prompt: "p"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

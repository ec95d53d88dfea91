package annotate

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pepper/internal/errx"
)

func TestClientTalksPlainText(t *testing.T) {
	var stored string
	mux := http.NewServeMux()
	mux.HandleFunc("/dep", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_, _ = w.Write([]byte("<svg>" + string(body) + "</svg>"))
	})
	mux.HandleFunc("/next", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Maria citește\n"))
	})
	mux.HandleFunc("/store", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		stored = string(body)
		_, _ = w.Write([]byte("42"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL+"/", nil)
	ctx := context.Background()

	html, err := c.Dep(ctx, "Ion doarme")
	require.NoError(t, err)
	assert.Equal(t, "<svg>Ion doarme</svg>", html)

	next, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Maria citește", next)

	n, err := c.Store(ctx, []byte(`["a",{"heads":[0],"deps":["ROOT"]}]`))
	require.NoError(t, err)
	assert.Equal(t, 42, n)
	assert.Equal(t, `["a",{"heads":[0],"deps":["ROOT"]}]`, stored)
}

func TestClientMapsErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/next", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no pending phrases", http.StatusNotFound)
	})
	mux.HandleFunc("/store", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("many"))
	})
	mux.HandleFunc("/dep", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.Next(context.Background())
	assert.Equal(t, errx.CodeNotFound, errx.CodeOf(err))

	_, err = c.Store(context.Background(), []byte("[]"))
	assert.Equal(t, errx.CodeDecode, errx.CodeOf(err))

	_, err = c.Dep(context.Background(), "x")
	assert.Equal(t, errx.CodeBadStatus, errx.CodeOf(err))
}

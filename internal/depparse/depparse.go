package depparse

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"

	"pepper/internal/annotate"
	"pepper/internal/errx"
	"pepper/internal/logger"
)

// Renderer turns a phrase into an HTML view of its dependency pre-parse.
type Renderer interface {
	Render(ctx context.Context, phrase string) (string, error)
}

// Remote forwards the phrase to an external parser service that answers with
// rendered HTML, the same contract the annotator's /dep route exposes.
type Remote struct {
	url  string
	http *http.Client
}

func NewRemote(url string, hc *http.Client) *Remote {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Remote{url: url, http: hc}
}

func (r *Remote) Render(ctx context.Context, phrase string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, strings.NewReader(phrase))
	if err != nil {
		return "", fmt.Errorf("build parse request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("parse request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read parse response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errx.New(fmt.Errorf("status %d", resp.StatusCode), errx.CodeBadStatus, http.StatusBadGateway, "dependency parser failed")
	}
	return string(body), nil
}

var tableTemplate = template.Must(template.New("tokens").Parse(
	`<table class="tokens"><tr><th>#</th><th>token</th></tr>` +
		`{{range $i, $t := .}}<tr><td>{{$i}}</td><td>{{$t}}</td></tr>{{end}}</table>`,
))

// Table renders the tokenized phrase locally, used when no parser is configured.
type Table struct{}

func (Table) Render(_ context.Context, phrase string) (string, error) {
	var buf bytes.Buffer
	if err := tableTemplate.Execute(&buf, annotate.Tokenize(phrase)); err != nil {
		return "", fmt.Errorf("render token table: %w", err)
	}
	return buf.String(), nil
}

// Fallback tries Primary and falls back to the local table on failure.
type Fallback struct {
	Primary Renderer
	Local   Renderer
}

func (f Fallback) Render(ctx context.Context, phrase string) (string, error) {
	if f.Primary != nil {
		out, err := f.Primary.Render(ctx, phrase)
		if err == nil {
			return out, nil
		}
		logger.Warn().Err(err).Msg("dependency parser unavailable, rendering token table")
	}
	local := f.Local
	if local == nil {
		local = Table{}
	}
	return local.Render(ctx, phrase)
}

// New returns a renderer for parserURL, or the local table when it is empty.
func New(parserURL string, hc *http.Client) Renderer {
	if parserURL == "" {
		return Table{}
	}
	return Fallback{Primary: NewRemote(parserURL, hc), Local: Table{}}
}

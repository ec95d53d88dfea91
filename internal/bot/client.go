package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"pepper/internal/errx"
	"pepper/internal/logger"
	"pepper/internal/metrics"
	"pepper/internal/models"
)

// DefaultFallbackReply is shown when the backend answers without usable text.
const DefaultFallbackReply = "Îmi pare rău, nu am înțeles. Poți reformula?"

const (
	routeWebhook = "webhook"
	routeIntent  = "intent"
)

// ErrBadStatus is wrapped when the backend answers with a non-2xx status.
var ErrBadStatus = errors.New("unexpected status")

// Reply combines the generated answer with the predicted intent.
type Reply struct {
	Text   string
	Intent models.Intent
}

// Options configures a Client.
type Options struct {
	BaseURL       string
	Sender        string
	Conversation  string
	FallbackReply string
	HTTPClient    *http.Client
}

// Client talks to the dialogue backend's REST channel and tracker API.
type Client struct {
	baseURL      string
	sender       string
	conversation string
	fallback     string
	http         *http.Client
}

// NewClient builds a bridge client. An empty HTTPClient uses http.DefaultClient,
// so timeouts are whatever the transport provides.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	fallback := opts.FallbackReply
	if fallback == "" {
		fallback = DefaultFallbackReply
	}
	conversation := opts.Conversation
	if conversation == "" {
		conversation = "0"
	}
	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		sender:       opts.Sender,
		conversation: conversation,
		fallback:     fallback,
		http:         hc,
	}
}

// WithSender returns a copy of the client bound to another sender identifier.
func (c *Client) WithSender(sender string) *Client {
	cp := *c
	cp.sender = sender
	return &cp
}

// Sender reports the sender identifier sent with every call.
func (c *Client) Sender() string {
	return c.sender
}

type webhookRequest struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

type webhookReply struct {
	Text string `json:"text"`
}

type trackerRequest struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type trackerReply struct {
	LatestMessage struct {
		Intent models.Intent `json:"intent"`
	} `json:"latest_message"`
}

// SendMessage posts text to the reply and intent endpoints concurrently and
// waits for both. Either failure fails the whole call.
func (c *Client) SendMessage(ctx context.Context, text string) (*Reply, error) {
	var (
		replies []webhookReply
		tracker trackerReply
		g       errgroup.Group
	)
	g.Go(func() error {
		return c.post(ctx, routeWebhook, "/webhooks/rest/webhook", webhookRequest{Sender: c.sender, Message: text}, &replies)
	})
	g.Go(func() error {
		path := fmt.Sprintf("/conversations/%s/messages", c.conversation)
		return c.post(ctx, routeIntent, path, trackerRequest{Sender: c.sender, Text: text}, &tracker)
	})
	if err := g.Wait(); err != nil {
		return nil, errx.New(err, errx.CodeBridgeFailed, http.StatusBadGateway, "bot backend request failed")
	}

	reply := &Reply{Text: c.fallback, Intent: tracker.LatestMessage.Intent}
	if len(replies) > 0 && strings.TrimSpace(replies[0].Text) != "" {
		reply.Text = replies[0].Text
	}
	return reply, nil
}

func (c *Client) post(ctx context.Context, route, path string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.BridgeRequests.WithLabelValues(route, outcome).Inc()
		metrics.BridgeLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", route, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s request: %w", route, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Warn().Err(err).Str("route", route).Msg("bot backend unreachable")
		return fmt.Errorf("%s request: %w", route, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return errx.New(fmt.Errorf("%w %d: %s", ErrBadStatus, resp.StatusCode, strings.TrimSpace(string(snippet))),
			errx.CodeBadStatus, http.StatusBadGateway, route+" endpoint rejected the message")
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errx.New(err, errx.CodeDecode, http.StatusBadGateway, "decode "+route+" response")
	}
	return nil
}

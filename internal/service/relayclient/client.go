package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"emcipher/internal/codec"
	"emcipher/internal/mailbox"
	"emcipher/internal/model"

	"github.com/gorilla/websocket"
)

type (
	// Client speaks the relay wire protocol. It carries only opaque
	// envelopes; all cryptography lives in the session layer above it.
	Client struct {
		host       string // host:port, no scheme
		httpClient *http.Client
	}

	statusResponse struct {
		OK  bool   `json:"ok"`
		Err string `json:"err,omitempty"`
	}

	listResponse struct {
		Msgs []*codec.WireEnvelope `json:"msgs"`
	}
)

func New(host string) *Client {
	return &Client{
		host: host,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *Client) messagesURL(convID string) string {
	u := url.URL{
		Scheme: "http",
		Host:   c.host,
		Path:   fmt.Sprintf("/v1/conversations/%s/messages", convID),
	}
	return u.String()
}

// Post appends the envelope to its conversation's mailbox. Safe to retry
// with the same msg_id on a network failure; retrying under a fresh msg_id
// would deliver the message twice.
func (c *Client) Post(ctx context.Context, env *model.Envelope) error {
	body, err := codec.Encode(env)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL(env.ConvID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("post envelope: %s", readErr(resp))
	}
	return nil
}

// List fetches the pending envelopes for a conversation in insertion order.
func (c *Client) List(ctx context.Context, convID string) ([]*model.Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.messagesURL(convID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list envelopes: %s", readErr(resp))
	}

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	envs := make([]*model.Envelope, 0, len(body.Msgs))
	for _, wire := range body.Msgs {
		env, err := codec.DecodeWire(wire)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

// Ack consumes one envelope. A not-found response maps to
// mailbox.ErrNotFound: the envelope was already consumed (or never existed)
// and the caller should stop polling for it.
func (c *Client) Ack(ctx context.Context, convID, msgID string) error {
	u := url.URL{
		Scheme: "http",
		Host:   c.host,
		Path:   fmt.Sprintf("/v1/conversations/%s/messages/%s/ack", convID, msgID),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return mailbox.ErrNotFound
	default:
		return fmt.Errorf("ack envelope: %s", readErr(resp))
	}
}

// Watch opens the relay's websocket push stream for a conversation. The
// caller owns the connection and reads wire envelopes off it.
func (c *Client) Watch(ctx context.Context, convID string) (*websocket.Conn, error) {
	u := url.URL{
		Scheme: "ws",
		Host:   c.host,
		Path:   fmt.Sprintf("/v1/conversations/%s/watch", convID),
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func drainAndClose(body io.ReadCloser) {
	io.Copy(io.Discard, body)
	body.Close()
}

func readErr(resp *http.Response) string {
	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Err != "" {
		return body.Err
	}
	return resp.Status
}

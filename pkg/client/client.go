// Package client talks to a webai server. It plays the part of a demo page:
// it opens one worker session, loads the model while aggregating progress,
// and sends work.
//
// Basic usage:
//
//	c, err := client.Dial(ctx, "http://localhost:8080", "vlm")
//	if err != nil { ... }
//	defer c.Close()
//	if _, err := c.Load(ctx, protocol.LoadOptions{}, nil); err != nil { ... }
//	res, err := c.Process(ctx, protocol.ProcessData{Instruction: "Describe.", Image: &img}, nil)
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/webai/internal/protocol"
)

// readLimit matches the server's frame bound; synthesized audio chunks are
// large JSON arrays.
const readLimit = 32 << 20

// RemoteError is an error message reported by the worker.
type RemoteError struct {
	Message string
	Detail  string
}

func (e *RemoteError) Error() string {
	if e.Detail != "" && e.Detail != e.Message {
		return fmt.Sprintf("worker: %s (%s)", e.Message, e.Detail)
	}
	return "worker: " + e.Message
}

// ProgressFunc receives every progress event together with the overall
// percentage across all files seen so far.
type ProgressFunc func(info protocol.ProgressInfo, overall float64)

// Option configures [Dial] and [ListWorkers].
type Option func(*options)

type options struct {
	httpClient *http.Client
	header     http.Header
}

// WithHTTPClient sets the HTTP client used for the handshake and REST calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithHeader adds a header to the handshake request.
func WithHeader(key, value string) Option {
	return func(o *options) {
		if o.header == nil {
			o.header = http.Header{}
		}
		o.header.Add(key, value)
	}
}

func buildOptions(opts []Option) options {
	o := options{httpClient: http.DefaultClient}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Client is one worker session. Send and Recv may be used from different
// goroutines, but Load and Process both consume incoming messages and must
// not run concurrently with Recv.
type Client struct {
	conn      *websocket.Conn
	sessionID string
	tracker   *protocol.ProgressTracker
}

// Dial opens a session with the worker kind at the server baseURL
// (http, https, ws or wss).
func Dial(ctx context.Context, baseURL, kind string, opts ...Option) (*Client, error) {
	o := buildOptions(opts)
	u, err := workerURL(baseURL, kind)
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPClient: o.httpClient,
		HTTPHeader: o.header,
	})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("client: dial %s: status %d: %w", kind, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("client: dial %s: %w", kind, err)
	}
	conn.SetReadLimit(readLimit)
	return &Client{
		conn:      conn,
		sessionID: resp.Header.Get("X-Session-ID"),
		tracker:   protocol.NewProgressTracker(),
	}, nil
}

func workerURL(baseURL, kind string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("client: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/workers/" + url.PathEscape(kind)
	return u.String(), nil
}

// SessionID returns the ID the server assigned to this session.
func (c *Client) SessionID() string { return c.sessionID }

// Progress returns the aggregated load progress.
func (c *Client) Progress() *protocol.ProgressTracker { return c.tracker }

// Send writes one message.
func (c *Client) Send(ctx context.Context, t protocol.Type, data any) error {
	msg, err := protocol.New(t, data)
	if err != nil {
		return fmt.Errorf("client: encode %s: %w", t, err)
	}
	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		return fmt.Errorf("client: send %s: %w", t, err)
	}
	return nil
}

// Recv reads the next message.
func (c *Client) Recv(ctx context.Context) (protocol.Message, error) {
	var msg protocol.Message
	if err := wsjson.Read(ctx, c.conn, &msg); err != nil {
		return protocol.Message{}, fmt.Errorf("client: receive: %w", err)
	}
	return msg, nil
}

// Load asks the worker to load and waits for its ready status. Progress
// events update [Client.Progress] and are passed to onProgress if non-nil.
func (c *Client) Load(ctx context.Context, opts protocol.LoadOptions, onProgress ProgressFunc) (protocol.StatusData, error) {
	if err := c.Send(ctx, protocol.TypeLoad, protocol.LoadData{Options: opts}); err != nil {
		return protocol.StatusData{}, err
	}
	for {
		msg, err := c.Recv(ctx)
		if err != nil {
			return protocol.StatusData{}, err
		}
		switch msg.Type {
		case protocol.TypeProgress:
			var pd protocol.ProgressData
			if err := msg.Decode(&pd); err != nil {
				return protocol.StatusData{}, err
			}
			c.tracker.Update(pd.Progress)
			if onProgress != nil {
				onProgress(pd.Progress, c.tracker.Overall())
			}
		case protocol.TypeStatus:
			var sd protocol.StatusData
			if err := msg.Decode(&sd); err != nil {
				return protocol.StatusData{}, err
			}
			if sd.Status == protocol.StatusReady {
				return sd, nil
			}
			slog.Debug("client: status", "status", sd.Status, "message", sd.Message)
		case protocol.TypeError:
			return protocol.StatusData{}, remoteError(msg)
		default:
			slog.Debug("client: ignoring message during load", "type", msg.Type)
		}
	}
}

// Process sends a process request and waits for its result. Streamed output
// chunks are passed to onOutput if non-nil. The returned message is the raw
// processResult; its output data shape depends on the worker kind.
func (c *Client) Process(ctx context.Context, data protocol.ProcessData, onOutput func(protocol.OutputData)) (protocol.Message, error) {
	if err := c.Send(ctx, protocol.TypeProcess, data); err != nil {
		return protocol.Message{}, err
	}
	for {
		msg, err := c.Recv(ctx)
		if err != nil {
			return protocol.Message{}, err
		}
		switch msg.Type {
		case protocol.TypeProcessResult:
			return msg, nil
		case protocol.TypeOutput:
			if onOutput == nil {
				continue
			}
			var od protocol.OutputData
			if err := msg.Decode(&od); err != nil {
				return protocol.Message{}, err
			}
			onOutput(od)
		case protocol.TypeError:
			return protocol.Message{}, remoteError(msg)
		default:
			slog.Debug("client: ignoring message during process", "type", msg.Type)
		}
	}
}

// ResultData decodes the output.data field of a processResult message into v.
func ResultData(msg protocol.Message, v any) error {
	var res struct {
		Output struct {
			Data json.RawMessage `json:"data"`
		} `json:"output"`
	}
	if err := msg.Decode(&res); err != nil {
		return err
	}
	if err := json.Unmarshal(res.Output.Data, v); err != nil {
		return fmt.Errorf("client: decode result data: %w", err)
	}
	return nil
}

func remoteError(msg protocol.Message) error {
	var ed protocol.ErrorData
	if err := msg.Decode(&ed); err != nil {
		return err
	}
	return &RemoteError{Message: ed.Message, Detail: ed.Error}
}

// Close ends the session normally.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// ListWorkers returns the worker kinds served at baseURL.
func ListWorkers(ctx context.Context, baseURL string, opts ...Option) ([]string, error) {
	o := buildOptions(opts)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+"/v1/workers", nil)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: list workers: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("client: list workers: status %d", resp.StatusCode)
	}
	var body struct {
		Workers []string `json:"workers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("client: decode workers: %w", err)
	}
	return body.Workers, nil
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package aria2 talks to an aria2 daemon over its JSON-RPC interface.
package aria2

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	methodGetVersion         = "aria2.getVersion"
	methodGetGlobalOption    = "aria2.getGlobalOption"
	methodChangeGlobalOption = "aria2.changeGlobalOption"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported aria2 rpc scheme")
	ErrClientClosed      = errors.New("aria2 client closed")
)

// Config describes how to reach the daemon.
type Config struct {
	// URL is the RPC endpoint, e.g. http://localhost:6800/jsonrpc or ws://localhost:6800/jsonrpc.
	URL     string
	Secret  string
	// Timeout bounds each HTTP request. Defaults to DefaultTimeout.
	Timeout time.Duration
}

const DefaultTimeout = 30 * time.Second

// VersionInfo is the result of aria2.getVersion.
type VersionInfo struct {
	Version         string   `json:"version"`
	EnabledFeatures []string `json:"enabledFeatures"`
}

// Client issues aria2 RPC calls. It is safe for concurrent use. A connection
// that fails is replaced on the next call, so a restarted daemon is picked up
// without recreating the client.
type Client struct {
	endpoint string
	secret   string
	dial     func(ctx context.Context) (*jrpc2.Client, error)

	mu     sync.Mutex
	rpc    *jrpc2.Client
	closed bool
}

// New connects to the daemon. WebSocket endpoints are dialled immediately;
// HTTP endpoints connect per call.
func New(ctx context.Context, cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.URL))
	if err != nil {
		return nil, errors.Wrap(err, "parse aria2 rpc url")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	endpoint := u.String()
	var dial func(ctx context.Context) (*jrpc2.Client, error)
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		httpClient := &http.Client{Timeout: timeout}
		dial = func(context.Context) (*jrpc2.Client, error) {
			ch := jhttp.NewChannel(endpoint, &jhttp.ChannelOptions{Client: httpClient})
			return jrpc2.NewClient(ch, nil), nil
		}
	case "ws", "wss":
		dial = func(ctx context.Context) (*jrpc2.Client, error) {
			ch, err := dialWebsocket(ctx, endpoint)
			if err != nil {
				return nil, err
			}
			// download events pushed by the daemon are not used
			return jrpc2.NewClient(ch, &jrpc2.ClientOptions{OnNotify: func(*jrpc2.Request) {}}), nil
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedScheme, "%q", u.Scheme)
	}

	rpc, err := dial(ctx)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("endpoint", u.Redacted()).Msg("aria2: rpc client ready")

	return &Client{
		endpoint: u.Redacted(),
		secret:   cfg.Secret,
		dial:     dial,
		rpc:      rpc,
	}, nil
}

// Endpoint returns the configured endpoint with credentials redacted.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.rpc == nil {
		return nil
	}
	err := c.rpc.Close()
	c.rpc = nil
	return err
}

// GetVersion returns the daemon's version information.
func (c *Client) GetVersion(ctx context.Context) (*VersionInfo, error) {
	var info VersionInfo
	if err := c.call(ctx, methodGetVersion, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetGlobalOption returns the daemon's global options.
func (c *Client) GetGlobalOption(ctx context.Context) (map[string]string, error) {
	options := map[string]string{}
	if err := c.call(ctx, methodGetGlobalOption, &options); err != nil {
		return nil, err
	}
	return options, nil
}

// SetGlobalOption changes one global option.
func (c *Client) SetGlobalOption(ctx context.Context, key, value string) error {
	var result string
	if err := c.call(ctx, methodChangeGlobalOption, &result, map[string]string{key: value}); err != nil {
		return err
	}
	if result != "OK" {
		return errors.Errorf("aria2: unexpected %s result %q", methodChangeGlobalOption, result)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, result any, args ...any) error {
	rpc, err := c.conn(ctx)
	if err != nil {
		return errors.Wrapf(err, "aria2: %s", method)
	}

	params := c.params(args...)
	err = rpc.CallResult(ctx, method, params, result)
	if err != nil && rpc.IsStopped() && ctx.Err() == nil {
		// the connection dropped; retry once on a fresh one
		log.Debug().Err(err).Str("endpoint", c.endpoint).Msg("aria2: rpc connection lost, reconnecting")

		rpc, dialErr := c.conn(ctx)
		if dialErr != nil {
			return errors.Wrapf(dialErr, "aria2: %s", method)
		}
		err = rpc.CallResult(ctx, method, params, result)
	}
	if err != nil {
		return errors.Wrapf(err, "aria2: %s", method)
	}
	return nil
}

// conn returns the live rpc client, dialling a new one if the previous
// connection has stopped.
func (c *Client) conn(ctx context.Context) (*jrpc2.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClientClosed
	}
	if c.rpc != nil && !c.rpc.IsStopped() {
		return c.rpc, nil
	}

	if c.rpc != nil {
		_ = c.rpc.Close()
		c.rpc = nil
	}

	rpc, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.rpc = rpc
	return rpc, nil
}

// params prepends the secret token when one is configured.
func (c *Client) params(args ...any) []any {
	params := make([]any, 0, len(args)+1)
	if c.secret != "" {
		params = append(params, "token:"+c.secret)
	}
	return append(params, args...)
}

// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package aria2

import (
	"context"

	cws "github.com/coder/websocket"
	"github.com/pkg/errors"
)

// aria2 replies to getGlobalOption with every option it knows, which can
// exceed the websocket library's default read limit.
const wsReadLimit = 1 << 20

// wsChannel carries JSON-RPC messages over a websocket connection.
type wsChannel struct {
	conn   *cws.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func dialWebsocket(ctx context.Context, endpoint string) (*wsChannel, error) {
	conn, _, err := cws.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dial aria2 websocket")
	}
	conn.SetReadLimit(wsReadLimit)

	chCtx, cancel := context.WithCancel(context.Background())
	return &wsChannel{conn: conn, ctx: chCtx, cancel: cancel}, nil
}

func (c *wsChannel) Send(data []byte) error {
	return c.conn.Write(c.ctx, cws.MessageText, data)
}

func (c *wsChannel) Recv() ([]byte, error) {
	_, data, err := c.conn.Read(c.ctx)
	return data, err
}

func (c *wsChannel) Close() error {
	defer c.cancel()
	return c.conn.Close(cws.StatusNormalClosure, "")
}

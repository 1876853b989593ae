// Copyright 2025-2026 The Fixly Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"sync"
	"time"

	"github.com/Blessan-Corley/Fixly-sub007/auth"
	"github.com/Blessan-Corley/Fixly-sub007/common"
	"github.com/apex/log"
	"github.com/gorilla/websocket"
)

const (
	// writeWait max time allowed to write one frame to the peer
	writeWait = time.Second * 10
	// pongWait max time allowed between pongs from the peer
	pongWait = time.Second * 60
	// pingPeriod transport level keepalive period, below pongWait
	pingPeriod = (pongWait * 9) / 10
	// maxFrameSize max inbound frame size in bytes
	maxFrameSize = 64 * 1024
	// outboundBuffer frames queued per connection before drops start
	outboundBuffer = 64
)

// wsConnection one live websocket session. Owned exclusively by the gateway
// for its lifetime: created on successful authentication, destroyed on
// disconnect or forced eviction. Never persisted.
type wsConnection struct {
	common.Component
	connID   string
	identity auth.Identity
	ws       *websocket.Conn
	outbound chan common.ServerEvent
	done     chan struct{}
	stopOnce sync.Once
}

// newWSConnection wrap one upgraded websocket
func newWSConnection(connID string, identity auth.Identity, ws *websocket.Conn) *wsConnection {
	logTags := log.Fields{
		"module":    "gateway",
		"component": "connection",
		"conn_id":   connID,
		"user_id":   identity.UserID,
	}
	return &wsConnection{
		Component: common.Component{LogTags: logTags},
		connID:    connID,
		identity:  identity,
		ws:        ws,
		outbound:  make(chan common.ServerEvent, outboundBuffer),
		done:      make(chan struct{}),
	}
}

// ID implement router.Session
func (c *wsConnection) ID() string {
	return c.connID
}

// User implement router.Session
func (c *wsConnection) User() auth.Identity {
	return c.identity
}

// Send queue one outbound frame. Best effort: frames for a consumer that
// cannot keep up are dropped rather than stalling the fan-out.
func (c *wsConnection) Send(event common.ServerEvent) {
	select {
	case c.outbound <- event:
	case <-c.done:
	default:
		log.WithFields(c.LogTags).Warnf("Dropping %s frame for slow consumer", event.Event)
	}
}

// Close terminate the connection immediately
func (c *wsConnection) Close() {
	c.stopOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump single writer draining the outbound queue toward the peer, with
// transport level keepalive pings
func (c *wsConnection) writePump(wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		pinger := time.NewTicker(pingPeriod)
		defer pinger.Stop()
		defer c.Close()
		for {
			select {
			case <-c.done:
				return
			case event := <-c.outbound:
				serialized, err := event.Serialize()
				if err != nil {
					log.WithError(err).WithFields(c.LogTags).Error("Unable to serialize frame")
					continue
				}
				_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.ws.WriteMessage(websocket.TextMessage, serialized); err != nil {
					log.WithError(err).WithFields(c.LogTags).Debug("Write failed")
					return
				}
			case <-pinger.C:
				_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
}

// readPump consume inbound frames until the connection dies. Runs on the
// caller's goroutine, one per connection.
func (c *wsConnection) readPump(handler func(common.ClientEvent)) {
	defer c.Close()
	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseGoingAway, websocket.CloseNormalClosure,
			) {
				log.WithError(err).WithFields(c.LogTags).Debug("Read failed")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		event, err := common.ParseClientEvent(raw)
		if err != nil {
			c.Send(common.ErrorEvent(common.ReasonMalformedEvent, ""))
			continue
		}
		handler(event)
	}
}

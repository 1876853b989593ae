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
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Blessan-Corley/Fixly-sub007/auth"
	"github.com/Blessan-Corley/Fixly-sub007/cluster"
	"github.com/Blessan-Corley/Fixly-sub007/common"
	"github.com/Blessan-Corley/Fixly-sub007/liveness"
	"github.com/Blessan-Corley/Fixly-sub007/router"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ServerStats gateway health snapshot for the monitoring layer
type ServerStats struct {
	// ConnectedCount number of live connections on this process
	ConnectedCount int `json:"connected_count"`
	// Rooms local membership count per room
	Rooms map[string]int `json:"rooms"`
	// TrackedCount number of connections with an activity record
	TrackedCount int `json:"tracked_count"`
	// FanoutMode "local" or "clustered"
	FanoutMode string `json:"fanout_mode"`
	// UptimeSec process uptime in seconds
	UptimeSec float64 `json:"uptime_sec"`
}

// Gateway is the public entry point of the realtime subsystem: connection
// lifecycle wiring, server-side emit helpers, and health reporting.
type Gateway interface {
	// HandshakeHandler HTTP handler upgrading client connections
	HandshakeHandler() http.HandlerFunc
	// EmitToUser deliver an event to one user's personal room
	EmitToUser(userID, event string, payload map[string]interface{})
	// EmitToJob deliver an event to a job's discussion room
	EmitToJob(jobID, event string, payload map[string]interface{})
	// EmitToMessages deliver an event to a conversation thread room
	EmitToMessages(jobID, event string, payload map[string]interface{})
	// Broadcast deliver an event to every connection
	Broadcast(event string, payload map[string]interface{})
	// ServerStats fetch the current health snapshot
	ServerStats() ServerStats
	// Stop halt the liveness sweep and tear down the cluster link
	Stop()
}

// gatewayImpl implements Gateway
type gatewayImpl struct {
	common.Component
	authenticator auth.TokenAuthenticator
	events        router.EventRouter
	tracker       liveness.Tracker
	fanout        cluster.FanoutAdapter
	upgrader      websocket.Upgrader
	startedAt     time.Time
	rootContext   context.Context
	wg            *sync.WaitGroup
	lock          sync.RWMutex
	connections   map[string]*wsConnection
}

// GetGateway define the realtime gateway, wiring authenticator, room router,
// liveness tracker, and cluster fan-out together
func GetGateway(
	authenticator auth.TokenAuthenticator,
	fanout cluster.FanoutAdapter,
	livenessConfig common.LivenessConfig,
	rootCtxt context.Context,
	wg *sync.WaitGroup,
) (Gateway, error) {
	logTags := log.Fields{
		"module": "gateway", "component": "facade",
	}

	instance := &gatewayImpl{
		Component:     common.Component{LogTags: logTags},
		authenticator: authenticator,
		fanout:        fanout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients arrive from the marketplace web origin, which
			// terminates elsewhere. Origin enforcement happens upstream.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		startedAt:   time.Now(),
		rootContext: rootCtxt,
		wg:          wg,
		connections: make(map[string]*wsConnection),
	}

	tracker, err := liveness.GetActivityTracker(
		time.Minute*time.Duration(livenessConfig.InactiveTimeout),
		time.Second*time.Duration(livenessConfig.WarningWindow),
		time.Minute*time.Duration(livenessConfig.SweepInterval),
		instance.warnConnection,
		instance.evictConnection,
		rootCtxt,
		wg,
	)
	if err != nil {
		return nil, err
	}
	instance.tracker = tracker

	events, err := router.GetEventRouter(fanout, tracker.Observe)
	if err != nil {
		return nil, err
	}
	instance.events = events

	if err := fanout.Start(events); err != nil {
		// Subscribe failure on a live link: continue local-only, the store
		// loss must never take down the gateway
		log.WithError(err).WithFields(logTags).Warn(
			"Cluster relay not started, continuing with local fan-out",
		)
	}
	if err := tracker.StartSweep(); err != nil {
		return nil, err
	}

	return instance, nil
}

// HandshakeHandler HTTP handler upgrading client connections. The credential
// is validated before the upgrade, a failed handshake never reaches handler
// wiring.
func (g *gatewayImpl) HandshakeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := g.authenticator.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			reason := auth.FailureReason(err)
			log.WithError(err).WithFields(g.LogTags).Infof(
				"Rejected handshake from %s", r.RemoteAddr,
			)
			status := http.StatusUnauthorized
			if reason == auth.ReasonAuthTimeout {
				status = http.StatusGatewayTimeout
			}
			http.Error(w, reason, status)
			return
		}

		ws, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).WithFields(g.LogTags).Info("Upgrade failed")
			return
		}

		connection := newWSConnection(uuid.New().String(), identity, ws)
		if err := g.wireConnection(connection); err != nil {
			// Error boundary: never leave a half-initialized connection behind
			log.WithError(err).WithFields(g.LogTags).Errorf(
				"Handler setup failed for %s, closing", connection.ID(),
			)
			connection.Close()
			return
		}

		// Serve inbound events on this goroutine until disconnect
		connection.readPump(func(event common.ClientEvent) {
			g.events.HandleEvent(connection, event)
		})
		g.releaseConnection(connection)
	}
}

// wireConnection attach one authenticated connection to the subsystems
func (g *gatewayImpl) wireConnection(connection *wsConnection) error {
	if err := g.events.RegisterSession(connection); err != nil {
		return err
	}

	g.lock.Lock()
	g.connections[connection.ID()] = connection
	g.lock.Unlock()

	g.tracker.Observe(connection.ID())
	connection.writePump(g.wg)
	log.WithFields(g.LogTags).Infof(
		"Connection %s open for user %s", connection.ID(), connection.User().UserID,
	)
	return nil
}

// releaseConnection tear down all state for a closed connection
func (g *gatewayImpl) releaseConnection(connection *wsConnection) {
	connection.Close()

	g.lock.Lock()
	delete(g.connections, connection.ID())
	g.lock.Unlock()

	g.tracker.Remove(connection.ID())
	g.events.UnregisterSession(connection.ID())
	log.WithFields(g.LogTags).Infof("Connection %s closed", connection.ID())
}

// warnConnection liveness sweep callback announcing imminent disconnection
func (g *gatewayImpl) warnConnection(connID string) {
	g.lock.RLock()
	connection, ok := g.connections[connID]
	g.lock.RUnlock()
	if ok {
		connection.Send(common.ServerEvent{
			Event: common.EventInactivityWarning,
			Payload: common.Attributed(map[string]interface{}{
				"reason": "inactivity",
			}, ""),
		})
	}
}

// evictConnection liveness sweep callback forcing a stale connection closed
func (g *gatewayImpl) evictConnection(connID string) {
	g.lock.RLock()
	connection, ok := g.connections[connID]
	g.lock.RUnlock()
	if ok {
		log.WithFields(g.LogTags).Infof("Evicting connection %s", connID)
		connection.Close()
	}
}

// bearerToken extract the credential from the handshake request
func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	return strings.TrimPrefix(header, "Bearer ")
}

// ==============================================================================
// Server-side emit interface, consumed by the REST layer

// EmitToUser deliver an event to one user's personal room
func (g *gatewayImpl) EmitToUser(userID, event string, payload map[string]interface{}) {
	g.events.PublishToRoom(router.UserRoom(userID), common.ServerEvent{
		Event: event, Payload: common.Attributed(payload, ""),
	})
}

// EmitToJob deliver an event to a job's discussion room
func (g *gatewayImpl) EmitToJob(jobID, event string, payload map[string]interface{}) {
	g.events.PublishToRoom(router.JobRoom(jobID), common.ServerEvent{
		Event: event, Payload: common.Attributed(payload, ""),
	})
}

// EmitToMessages deliver an event to a conversation thread room
func (g *gatewayImpl) EmitToMessages(jobID, event string, payload map[string]interface{}) {
	g.events.PublishToRoom(router.MessagesRoom(jobID), common.ServerEvent{
		Event: event, Payload: common.Attributed(payload, ""),
	})
}

// Broadcast deliver an event to every connection
func (g *gatewayImpl) Broadcast(event string, payload map[string]interface{}) {
	g.events.Broadcast(common.ServerEvent{
		Event: event, Payload: common.Attributed(payload, ""),
	})
}

// ServerStats fetch the current health snapshot
func (g *gatewayImpl) ServerStats() ServerStats {
	return ServerStats{
		ConnectedCount: g.events.SessionCount(),
		Rooms:          g.events.RoomCounts(),
		TrackedCount:   g.tracker.Tracked(),
		FanoutMode:     g.fanout.Mode().String(),
		UptimeSec:      time.Since(g.startedAt).Seconds(),
	}
}

// Stop halt the liveness sweep and tear down the cluster link
func (g *gatewayImpl) Stop() {
	if err := g.tracker.Stop(); err != nil {
		log.WithError(err).WithFields(g.LogTags).Error("Unable to stop liveness sweep")
	}
	g.fanout.Close()
}

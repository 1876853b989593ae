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

package cluster

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/Blessan-Corley/Fixly-sub007/common"
	"github.com/Blessan-Corley/Fixly-sub007/core"
	"github.com/apex/log"
	"github.com/nats-io/nats.go"
)

// Mode is the fan-out mode the gateway is operating in. It is an explicit,
// observable state rather than an implicit consequence of a caught error, so
// tests and operators can assert on it directly.
type Mode int

const (
	// ModeLocal fan-out reaches local room members only. Correct for a
	// single-process deployment, silently loses cross-process delivery in a
	// multi-process one.
	ModeLocal Mode = iota
	// ModeClustered fan-out is mirrored through the backing store to every
	// sibling process holding local members of the target room
	ModeClustered
)

// String implement Stringer
func (m Mode) String() string {
	if m == ModeClustered {
		return "clustered"
	}
	return "local"
}

// LocalDeliverer applies publishes arriving from sibling processes to local
// room members
type LocalDeliverer interface {
	DeliverToRoom(room string, event common.ServerEvent)
	DeliverBroadcast(event common.ServerEvent)
}

// FanoutAdapter bridges the room router's local fan-out across gateway
// processes through the shared pub/sub backing store. Mirroring is
// fire-and-forget: it never blocks or fails local delivery.
type FanoutAdapter interface {
	// MirrorToRoom mirror a room publish across processes
	MirrorToRoom(room string, event common.ServerEvent)
	// MirrorBroadcast mirror a process-wide broadcast across processes
	MirrorBroadcast(event common.ServerEvent)
	// Mode the fan-out mode currently in effect
	Mode() Mode
	// Start begin relaying sibling publishes into the local deliverer
	Start(local LocalDeliverer) error
	// Close tear down the backing store link without blocking shutdown
	Close()
}

// Backing store subjects
const (
	roomSubject      = "fixly.gateway.rooms"
	broadcastSubject = "fixly.gateway.broadcast"
)

// envelope one mirrored publish on the backing store
type envelope struct {
	// Origin the publishing gateway instance, used to skip own echoes
	Origin string `json:"origin"`
	// Room the target room, empty for a process-wide broadcast
	Room string `json:"room,omitempty"`
	// Event the frame to deliver
	Event common.ServerEvent `json:"event"`
}

// ==============================================================================
// Local-only adapter

// localFanoutImpl implements FanoutAdapter for the degraded / single-process case
type localFanoutImpl struct {
	common.Component
}

func (f *localFanoutImpl) MirrorToRoom(string, common.ServerEvent) {}
func (f *localFanoutImpl) MirrorBroadcast(common.ServerEvent)     {}
func (f *localFanoutImpl) Mode() Mode                             { return ModeLocal }
func (f *localFanoutImpl) Start(LocalDeliverer) error             { return nil }
func (f *localFanoutImpl) Close()                                 {}

// ==============================================================================
// NATS backed adapter

// natsFanoutImpl implements FanoutAdapter over a NATS link
type natsFanoutImpl struct {
	common.Component
	instance     string
	client       core.NatsClient
	closeTimeout time.Duration
	lock         sync.Mutex
	local        LocalDeliverer
	outbound     chan envelope
	opContext    context.Context
	opCancel     context.CancelFunc
	wg           *sync.WaitGroup
	subs         []*nats.Subscription
}

// GetClusterFanout define the FanoutAdapter for this gateway instance.
//
// A missing backing store URI selects local-only mode without attempting a
// connection. A failed pre-flight check, connect, or liveness probe also
// selects local-only mode: degraded operation is logged, never fatal.
func GetClusterFanout(
	config common.ClusterConfig,
	instance string,
	rootCtxt context.Context,
	wg *sync.WaitGroup,
) FanoutAdapter {
	logTags := log.Fields{
		"module":    "cluster",
		"component": "fanout-adapter",
		"instance":  instance,
	}

	if config.ServerURI == "" {
		log.WithFields(logTags).Info("No backing store configured, using local fan-out")
		return &localFanoutImpl{Component: common.Component{LogTags: logTags}}
	}

	client, err := core.GetNatsClient(core.NATSConnectParams{
		ServerURI:           config.ServerURI,
		ConnectTimeout:      time.Second * time.Duration(config.ConnectTimeout),
		PingTimeout:         time.Second * time.Duration(config.PingTimeout),
		MaxReconnectAttempt: config.Reconnect.MaxAttempts,
		ReconnectWait:       time.Second * time.Duration(config.Reconnect.WaitInterval),
		OnDisconnectCallback: func(_ *nats.Conn, e error) {
			log.WithError(e).WithFields(logTags).Warn("Backing store link lost")
		},
		OnReconnectCallback: func(_ *nats.Conn) {
			log.WithFields(logTags).Warn("Backing store link restored")
		},
	})
	if err != nil {
		log.WithError(err).WithFields(logTags).Warn(
			"Backing store unavailable, degrading to local-only fan-out",
		)
		return &localFanoutImpl{Component: common.Component{LogTags: logTags}}
	}

	opCtxt, opCancel := context.WithCancel(rootCtxt)
	return &natsFanoutImpl{
		Component:    common.Component{LogTags: logTags},
		instance:     instance,
		client:       client,
		closeTimeout: time.Second * time.Duration(config.CloseTimeout),
		outbound:     make(chan envelope, 256),
		opContext:    opCtxt,
		opCancel:     opCancel,
		wg:           wg,
	}
}

// Mode the fan-out mode currently in effect
func (f *natsFanoutImpl) Mode() Mode {
	return ModeClustered
}

// Start subscribe for sibling publishes and start the single publish writer
func (f *natsFanoutImpl) Start(local LocalDeliverer) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.local = local

	roomSub, err := f.client.NATs().Subscribe(roomSubject, f.handleMirrored)
	if err != nil {
		log.WithError(err).WithFields(f.LogTags).Error("Room mirror subscribe failed")
		return err
	}
	broadcastSub, err := f.client.NATs().Subscribe(broadcastSubject, f.handleMirrored)
	if err != nil {
		log.WithError(err).WithFields(f.LogTags).Error("Broadcast mirror subscribe failed")
		_ = roomSub.Unsubscribe()
		return err
	}
	f.subs = []*nats.Subscription{roomSub, broadcastSub}

	// Single writer for all publish operations toward the backing store
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer log.WithFields(f.LogTags).Info("Publish loop exiting")
		for {
			select {
			case <-f.opContext.Done():
				return
			case message := <-f.outbound:
				f.publish(message)
			}
		}
	}()

	log.WithFields(f.LogTags).Info("Cluster fan-out active")
	return nil
}

// handleMirrored apply one mirrored publish from a sibling process
func (f *natsFanoutImpl) handleMirrored(msg *nats.Msg) {
	var message envelope
	if err := json.Unmarshal(msg.Data, &message); err != nil {
		log.WithError(err).WithFields(f.LogTags).Warn("Discarding unparseable mirror")
		return
	}
	if message.Origin == f.instance {
		return
	}
	f.lock.Lock()
	local := f.local
	f.lock.Unlock()
	if local == nil {
		return
	}
	if message.Room != "" {
		local.DeliverToRoom(message.Room, message.Event)
	} else {
		local.DeliverBroadcast(message.Event)
	}
}

// MirrorToRoom mirror a room publish across processes. Best effort: when the
// outbound buffer is full the mirror is dropped, local delivery already
// happened.
func (f *natsFanoutImpl) MirrorToRoom(room string, event common.ServerEvent) {
	f.enqueue(envelope{Origin: f.instance, Room: room, Event: event})
}

// MirrorBroadcast mirror a process-wide broadcast across processes
func (f *natsFanoutImpl) MirrorBroadcast(event common.ServerEvent) {
	f.enqueue(envelope{Origin: f.instance, Event: event})
}

func (f *natsFanoutImpl) enqueue(message envelope) {
	select {
	case f.outbound <- message:
	default:
		log.WithFields(f.LogTags).Warn("Mirror buffer full, dropping publish")
	}
}

func (f *natsFanoutImpl) publish(message envelope) {
	serialized, err := json.Marshal(&message)
	if err != nil {
		log.WithError(err).WithFields(f.LogTags).Error("Unable to serialize mirror")
		return
	}
	subject := roomSubject
	if message.Room == "" {
		subject = broadcastSubject
	}
	if err := f.client.NATs().Publish(subject, serialized); err != nil {
		log.WithError(err).WithFields(f.LogTags).Warn("Mirror publish failed")
	}
}

// Close tear down both directions of the backing store link, bounded so
// shutdown never hangs on a dead store
func (f *natsFanoutImpl) Close() {
	f.lock.Lock()
	for _, sub := range f.subs {
		_ = sub.Unsubscribe()
	}
	f.subs = nil
	f.lock.Unlock()

	f.opCancel()

	closeCtxt, cancel := context.WithTimeout(context.Background(), f.closeTimeout)
	defer cancel()
	f.client.Close(closeCtxt)
}

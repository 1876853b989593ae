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

package core

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/Blessan-Corley/Fixly-sub007/common"
	"github.com/apex/log"
	"github.com/nats-io/nats.go"
)

// NATSConnectParams NATS connection parameter
type NATSConnectParams struct {
	// ServerURI connect to the NATS cluster with URI
	ServerURI string `validate:"required,uri"`
	// ConnectTimeout max time to wait for connection
	ConnectTimeout time.Duration
	// PingTimeout max time to wait for the post-connect liveness probe
	PingTimeout time.Duration
	// MaxReconnectAttempt on connection failure, max number of reconnect
	// attempt. "-1" means infinite
	MaxReconnectAttempt int
	// ReconnectWait wait duration between reconnect attempts
	ReconnectWait time.Duration
	// OnDisconnectCallback callback on disconnect
	OnDisconnectCallback func(*nats.Conn, error)
	// OnReconnectCallback callback on reconnect
	OnReconnectCallback func(*nats.Conn)
	// OnCloseCallback callback on close
	OnCloseCallback func(*nats.Conn)
}

// NatsClient NATS client used as the cross-process fan-out backing store
type NatsClient struct {
	common.Component
	nc *nats.Conn
}

// NATs fetch the underlying NATS connection
func (c NatsClient) NATs() *nats.Conn {
	return c.nc
}

// Close close the NATS client, bounded by the context deadline. Falls back to
// a forced close when the flush does not finish in time.
func (c NatsClient) Close(ctxt context.Context) {
	if err := c.nc.FlushWithContext(ctxt); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("NATS flush failed")
	}
	c.nc.Close()
	log.WithFields(c.LogTags).Infof("Close NATS client")
}

// ResolveHost pre-flight name-resolution check on the backing store host.
// Catches known-flaky hosts before spending the full connect timeout on them.
func ResolveHost(serverURI string) error {
	parsed, err := url.Parse(serverURI)
	if err != nil {
		return fmt.Errorf("unparseable backing store URI: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("backing store URI %s names no host", serverURI)
	}
	if net.ParseIP(host) != nil {
		return nil
	}
	if _, err := net.LookupHost(host); err != nil {
		return fmt.Errorf("backing store host %s does not resolve: %w", host, err)
	}
	return nil
}

// GetNatsClient define a new NATS client for cross-process fan-out. The
// connect and liveness probe stages are both bounded, a failure at either
// stage is returned to the caller without retry.
func GetNatsClient(param NATSConnectParams) (NatsClient, error) {
	logTags := log.Fields{
		"module":    "core",
		"component": "nats-backend",
		"instance":  param.ServerURI,
	}

	if err := ResolveHost(param.ServerURI); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("NATS host pre-flight failed")
		return NatsClient{}, err
	}

	// Create the NATS transport
	nc, err := nats.Connect(
		param.ServerURI,
		nats.Timeout(param.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(param.MaxReconnectAttempt),
		nats.ReconnectWait(param.ReconnectWait),
		nats.DisconnectErrHandler(param.OnDisconnectCallback),
		nats.ReconnectHandler(param.OnReconnectCallback),
		nats.ClosedHandler(param.OnCloseCallback),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("NATS client connect failed")
		return NatsClient{}, err
	}

	// Liveness probe before declaring the link usable
	probeCtxt, cancel := context.WithTimeout(context.Background(), param.PingTimeout)
	defer cancel()
	if err := nc.FlushWithContext(probeCtxt); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("NATS liveness probe failed")
		nc.Close()
		return NatsClient{}, err
	}

	log.WithFields(logTags).Info("Created NATS client")
	return NatsClient{
		Component: common.Component{LogTags: logTags},
		nc:        nc,
	}, nil
}

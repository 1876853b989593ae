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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Blessan-Corley/Fixly-sub007/apis"
	"github.com/Blessan-Corley/Fixly-sub007/auth"
	"github.com/Blessan-Corley/Fixly-sub007/cluster"
	"github.com/Blessan-Corley/Fixly-sub007/common"
	"github.com/Blessan-Corley/Fixly-sub007/gateway"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/urfave/cli/v2"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// GatewayRestEndpoints end-point path configs for the gateway server
type GatewayRestEndpoints struct {
	// PathPrefix path prefix for the REST control endpoints
	PathPrefix string `validate:"required"`
	// WebsocketPath path clients connect to for the realtime session
	WebsocketPath string `validate:"required,startswith=/"`
}

// GatewayCLIArgs arguments
type GatewayCLIArgs struct {
	Endpoints GatewayRestEndpoints
}

// GetGatewayCLIFlags retrieve the set of CMD flags for the gateway server
func GetGatewayCLIFlags(args *GatewayCLIArgs) []cli.Flag {
	return []cli.Flag{
		// End-point related
		&cli.StringFlag{
			Name:        "gateway-server-endpoint-prefix",
			Usage:       "Set the end-point path prefix for the gateway APIs",
			Aliases:     []string{"gsep"},
			EnvVars:     []string{"GATEWAY_SERVER_ENDPOINT_PREFIX"},
			Value:       "/",
			DefaultText: "/",
			Destination: &args.Endpoints.PathPrefix,
			Required:    false,
		},
		&cli.StringFlag{
			Name:        "gateway-server-websocket-path",
			Usage:       "Set the end-point path clients connect to for realtime sessions",
			Aliases:     []string{"gswp"},
			EnvVars:     []string{"GATEWAY_SERVER_WEBSOCKET_PATH"},
			Value:       "/ws",
			DefaultText: "/ws",
			Destination: &args.Endpoints.WebsocketPath,
			Required:    false,
		},
	}
}

// RunGatewayServer run the realtime gateway server
func RunGatewayServer(
	runTimeContext context.Context,
	config *common.GatewayConfig,
	params GatewayCLIArgs,
	instance string,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "gateway",
		"instance":  instance,
	}

	validate := validator.New()
	if err := validate.Struct(&params); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid CMD args")
		return err
	}

	authenticator, err := auth.GetJWTAuthenticator(
		config.Auth.Secret, time.Second*time.Duration(config.Auth.ValidateTimeout),
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define authenticator")
		return err
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()

	fanout := cluster.GetClusterFanout(config.Cluster, instance, localCtxt, wg)

	core, err := gateway.GetGateway(
		authenticator, fanout, config.Liveness, localCtxt, wg,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define gateway core")
		return err
	}
	defer core.Stop()

	httpHandler, err := apis.GetAPIRestGatewayHandler(core, &config.HTTPSetting)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define HTTP handler")
		return err
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, params.Endpoints.PathPrefix, nil)

	// Client websocket sessions
	mainRouter.Path(params.Endpoints.WebsocketPath).Methods("get").HandlerFunc(
		core.HandshakeHandler(),
	)

	// Server-side emits
	emitAPIRouter := apis.RegisterPathPrefix(mainRouter, "/v1/emit", nil)
	_ = apis.RegisterPathPrefix(
		emitAPIRouter, "/user/{userId}", map[string]http.HandlerFunc{
			"post": httpHandler.EmitToUserHandler(),
		},
	)
	_ = apis.RegisterPathPrefix(
		emitAPIRouter, "/job/{jobId}", map[string]http.HandlerFunc{
			"post": httpHandler.EmitToJobHandler(),
		},
	)
	_ = apis.RegisterPathPrefix(
		emitAPIRouter, "/messages/{jobId}", map[string]http.HandlerFunc{
			"post": httpHandler.EmitToMessagesHandler(),
		},
	)
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/broadcast", map[string]http.HandlerFunc{
		"post": httpHandler.BroadcastHandler(),
	})

	// Introspection
	_ = apis.RegisterPathPrefix(mainRouter, "/v1/stats", map[string]http.HandlerFunc{
		"get": httpHandler.StatsHandler(),
	})

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": httpHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(httpHandler, next)
	})

	serverListen := fmt.Sprintf(
		"%s:%d", config.HTTPSetting.Server.ListenOn, config.HTTPSetting.Server.Port,
	)
	httpSrv := &http.Server{
		Addr: serverListen,
		// Websocket sessions hijack the connection, server timeouts only bound
		// the handshake and the REST endpoints
		ReadTimeout:  time.Second * time.Duration(config.HTTPSetting.Server.ReadTimeout),
		WriteTimeout: time.Second * time.Duration(config.HTTPSetting.Server.WriteTimeout),
		IdleTimeout:  time.Second * time.Duration(config.HTTPSetting.Server.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started gateway server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}

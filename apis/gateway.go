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

package apis

import (
	"encoding/json"
	"net/http"

	"github.com/Blessan-Corley/Fixly-sub007/common"
	"github.com/Blessan-Corley/Fixly-sub007/gateway"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// ServerEmitRequest request body for the server-side emit endpoints
type ServerEmitRequest struct {
	// Event name of the event delivered to matching connections
	Event string `json:"event" validate:"required"`
	// Payload event payload forwarded as given
	Payload map[string]interface{} `json:"payload"`
}

// APIRestGatewayHandler REST handler for the realtime gateway control surface
type APIRestGatewayHandler struct {
	goutils.RestAPIHandler
	gateway  gateway.Gateway
	validate *validator.Validate
}

// GetAPIRestGatewayHandler define APIRestGatewayHandler
func GetAPIRestGatewayHandler(
	core gateway.Gateway, httpConfig *common.HTTPConfig,
) (APIRestGatewayHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "gateway-control",
	}
	return APIRestGatewayHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range httpConfig.Logging.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		gateway:  core,
		validate: validator.New(),
	}, nil
}

// Write logging support for the request logging middleware
func (h APIRestGatewayHandler) Write(p []byte) (n int, err error) {
	log.WithFields(h.LogTags).Infof("%s", p)
	return len(p), nil
}

// readEmitRequest parse and validate the emit request body
func (h APIRestGatewayHandler) readEmitRequest(r *http.Request) (ServerEmitRequest, error) {
	var request ServerEmitRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		return request, err
	}
	if err := h.validate.Struct(&request); err != nil {
		return request, err
	}
	return request, nil
}

// =======================================================================
// Server-side emits

// -----------------------------------------------------------------------

// EmitToUser godoc
// @Summary Emit an event to one user
// @Description Deliver an event to every connection in the user's personal room
// @tags Gateway
// @Accept json
// @Produce json
// @Param Fixly-Request-ID header string false "User provided request ID to match against logs"
// @Param userId path string true "Target user ID"
// @Param emitRequest body ServerEmitRequest true "Event to deliver"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Fixly-Request-ID "Request ID to match against logs"
// @Router /v1/emit/user/{userId} [post]
func (h APIRestGatewayHandler) EmitToUser(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	userID, ok := vars["userId"]
	if !ok {
		msg := "No user ID provided"
		log.WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	request, err := h.readEmitRequest(r)
	if err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	h.gateway.EmitToUser(userID, request.Event, request.Payload)
	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// EmitToUserHandler Wrapper around EmitToUser
func (h APIRestGatewayHandler) EmitToUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.EmitToUser(w, r)
	}
}

// -----------------------------------------------------------------------

// EmitToJob godoc
// @Summary Emit an event to a job room
// @Description Deliver an event to every connection in the job's discussion room
// @tags Gateway
// @Accept json
// @Produce json
// @Param Fixly-Request-ID header string false "User provided request ID to match against logs"
// @Param jobId path string true "Target job ID"
// @Param emitRequest body ServerEmitRequest true "Event to deliver"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Fixly-Request-ID "Request ID to match against logs"
// @Router /v1/emit/job/{jobId} [post]
func (h APIRestGatewayHandler) EmitToJob(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	jobID, ok := vars["jobId"]
	if !ok {
		msg := "No job ID provided"
		log.WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	request, err := h.readEmitRequest(r)
	if err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	h.gateway.EmitToJob(jobID, request.Event, request.Payload)
	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// EmitToJobHandler Wrapper around EmitToJob
func (h APIRestGatewayHandler) EmitToJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.EmitToJob(w, r)
	}
}

// -----------------------------------------------------------------------

// EmitToMessages godoc
// @Summary Emit an event to a conversation thread
// @Description Deliver an event to every connection in the job's conversation thread room
// @tags Gateway
// @Accept json
// @Produce json
// @Param Fixly-Request-ID header string false "User provided request ID to match against logs"
// @Param jobId path string true "Target job ID"
// @Param emitRequest body ServerEmitRequest true "Event to deliver"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Fixly-Request-ID "Request ID to match against logs"
// @Router /v1/emit/messages/{jobId} [post]
func (h APIRestGatewayHandler) EmitToMessages(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	vars := mux.Vars(r)
	jobID, ok := vars["jobId"]
	if !ok {
		msg := "No job ID provided"
		log.WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, msg)
		return
	}

	request, err := h.readEmitRequest(r)
	if err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	h.gateway.EmitToMessages(jobID, request.Event, request.Payload)
	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// EmitToMessagesHandler Wrapper around EmitToMessages
func (h APIRestGatewayHandler) EmitToMessagesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.EmitToMessages(w, r)
	}
}

// -----------------------------------------------------------------------

// Broadcast godoc
// @Summary Broadcast an event
// @Description Deliver an event to every connection across the cluster
// @tags Gateway
// @Accept json
// @Produce json
// @Param Fixly-Request-ID header string false "User provided request ID to match against logs"
// @Param emitRequest body ServerEmitRequest true "Event to deliver"
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Fixly-Request-ID "Request ID to match against logs"
// @Router /v1/broadcast [post]
func (h APIRestGatewayHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	request, err := h.readEmitRequest(r)
	if err != nil {
		msg := "Unable to parse request body"
		log.WithError(err).WithFields(localLogTags).Error(msg)
		respCode = http.StatusBadRequest
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusBadRequest, msg, err.Error())
		return
	}

	h.gateway.Broadcast(request.Event, request.Payload)
	respCode = http.StatusOK
	respBody = h.GetStdRESTSuccessMsg(r.Context())
}

// BroadcastHandler Wrapper around Broadcast
func (h APIRestGatewayHandler) BroadcastHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Broadcast(w, r)
	}
}

// =======================================================================
// Introspection

// -----------------------------------------------------------------------

// APIRestRespServerStats health snapshot of this gateway instance
type APIRestRespServerStats struct {
	goutils.RestAPIBaseResponse
	gateway.ServerStats
}

// Stats godoc
// @Summary Fetch the gateway health snapshot
// @Description Connection count, per-room membership, fan-out mode, and uptime
// @tags Gateway
// @Produce json
// @Param Fixly-Request-ID header string false "User provided request ID to match against logs"
// @Success 200 {object} APIRestRespServerStats "success"
// @Failure 400 {object} goutils.RestAPIBaseResponse "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Header 200,400,500 {string} Fixly-Request-ID "Request ID to match against logs"
// @Router /v1/stats [get]
func (h APIRestGatewayHandler) Stats(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	resp := APIRestRespServerStats{
		RestAPIBaseResponse: h.GetStdRESTSuccessMsg(r.Context()),
		ServerStats:         h.gateway.ServerStats(),
	}
	if err := h.WriteRESTResponse(w, http.StatusOK, &resp, nil); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// StatsHandler Wrapper around Stats
func (h APIRestGatewayHandler) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Stats(w, r)
	}
}

// =======================================================================
// Health Checks

// -----------------------------------------------------------------------

// Alive godoc
// @Summary For gateway liveness check
// @Description Will return success to indicate gateway is live
// @tags Gateway
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {string} string "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /alive [get]
func (h APIRestGatewayHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestGatewayHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// -----------------------------------------------------------------------

// Ready godoc
// @Summary For gateway readiness check
// @Description Will return success if the gateway is ready to accept connections
// @tags Gateway
// @Produce json
// @Success 200 {object} goutils.RestAPIBaseResponse "success"
// @Failure 400 {string} string "error"
// @Failure 404 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /ready [get]
func (h APIRestGatewayHandler) Ready(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	var respCode int
	var respBody interface{}
	defer func() {
		if err := h.WriteRESTResponse(w, respCode, respBody, nil); err != nil {
			log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
		}
	}()

	// A degraded cluster link is still ready, local fan-out continues
	if h.gateway != nil {
		respCode = http.StatusOK
		respBody = h.GetStdRESTSuccessMsg(r.Context())
	} else {
		msg := "not ready"
		respCode = http.StatusInternalServerError
		respBody = h.GetStdRESTErrorMsg(r.Context(), http.StatusInternalServerError, msg, msg)
	}
}

// ReadyHandler Wrapper around Ready
func (h APIRestGatewayHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}

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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Blessan-Corley/Fixly-sub007/common"
	"github.com/Blessan-Corley/Fixly-sub007/gateway"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

// recordedEmit one captured server-side emit
type recordedEmit struct {
	target  string
	event   string
	payload map[string]interface{}
}

// mockGateway test double for the gateway core
type mockGateway struct {
	userEmits    []recordedEmit
	jobEmits     []recordedEmit
	messageEmits []recordedEmit
	broadcasts   []recordedEmit
	stats        gateway.ServerStats
}

func (m *mockGateway) HandshakeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {}
}

func (m *mockGateway) EmitToUser(userID, event string, payload map[string]interface{}) {
	m.userEmits = append(m.userEmits, recordedEmit{target: userID, event: event, payload: payload})
}

func (m *mockGateway) EmitToJob(jobID, event string, payload map[string]interface{}) {
	m.jobEmits = append(m.jobEmits, recordedEmit{target: jobID, event: event, payload: payload})
}

func (m *mockGateway) EmitToMessages(jobID, event string, payload map[string]interface{}) {
	m.messageEmits = append(m.messageEmits, recordedEmit{target: jobID, event: event, payload: payload})
}

func (m *mockGateway) Broadcast(event string, payload map[string]interface{}) {
	m.broadcasts = append(m.broadcasts, recordedEmit{event: event, payload: payload})
}

func (m *mockGateway) ServerStats() gateway.ServerStats {
	return m.stats
}

func (m *mockGateway) Stop() {}

func buildTestRouter(handler APIRestGatewayHandler) *mux.Router {
	router := mux.NewRouter()
	_ = RegisterPathPrefix(router, "/v1/emit/user/{userId}", MethodHandlers{
		"post": handler.EmitToUserHandler(),
	})
	_ = RegisterPathPrefix(router, "/v1/emit/job/{jobId}", MethodHandlers{
		"post": handler.EmitToJobHandler(),
	})
	_ = RegisterPathPrefix(router, "/v1/emit/messages/{jobId}", MethodHandlers{
		"post": handler.EmitToMessagesHandler(),
	})
	_ = RegisterPathPrefix(router, "/v1/broadcast", MethodHandlers{
		"post": handler.BroadcastHandler(),
	})
	_ = RegisterPathPrefix(router, "/v1/stats", MethodHandlers{
		"get": handler.StatsHandler(),
	})
	_ = RegisterPathPrefix(router, "/alive", MethodHandlers{
		"get": handler.AliveHandler(),
	})
	_ = RegisterPathPrefix(router, "/ready", MethodHandlers{
		"get": handler.ReadyHandler(),
	})
	return router
}

func TestGatewayControlAPIs(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.ErrorLevel)

	core := &mockGateway{
		stats: gateway.ServerStats{
			ConnectedCount: 3,
			Rooms:          map[string]int{"job:42": 2},
			TrackedCount:   3,
			FanoutMode:     "local",
			UptimeSec:      12.5,
		},
	}

	requestIDHeader := "Fixly-Request-ID"
	uut, err := GetAPIRestGatewayHandler(core, &common.HTTPConfig{
		Logging: common.HTTPRequestLogging{RequestIDHeader: requestIDHeader},
	})
	assert.Nil(err)
	router := buildTestRouter(uut)

	// Case 0: health checks
	{
		req, err := http.NewRequest("GET", "/alive", nil)
		assert.Nil(err)
		respRecorder := httptest.NewRecorder()
		router.ServeHTTP(respRecorder, req)
		assert.Equal(http.StatusOK, respRecorder.Code)
	}
	{
		req, err := http.NewRequest("GET", "/ready", nil)
		assert.Nil(err)
		respRecorder := httptest.NewRecorder()
		router.ServeHTTP(respRecorder, req)
		assert.Equal(http.StatusOK, respRecorder.Code)
	}

	// Case 1: emit to a user
	{
		body, err := json.Marshal(ServerEmitRequest{
			Event:   "notification:new",
			Payload: map[string]interface{}{"notification": "hello"},
		})
		assert.Nil(err)
		req, err := http.NewRequest("POST", "/v1/emit/user/user-a", bytes.NewReader(body))
		assert.Nil(err)
		req.Header.Set(requestIDHeader, uuid.NewString())
		respRecorder := httptest.NewRecorder()
		router.ServeHTTP(respRecorder, req)
		assert.Equal(http.StatusOK, respRecorder.Code)
		assert.Len(core.userEmits, 1)
		assert.Equal("user-a", core.userEmits[0].target)
		assert.Equal("notification:new", core.userEmits[0].event)
		assert.Equal("hello", core.userEmits[0].payload["notification"])
	}

	// Case 2: emit without an event name is rejected
	{
		body, err := json.Marshal(ServerEmitRequest{
			Payload: map[string]interface{}{"notification": "hello"},
		})
		assert.Nil(err)
		req, err := http.NewRequest("POST", "/v1/emit/user/user-a", bytes.NewReader(body))
		assert.Nil(err)
		respRecorder := httptest.NewRecorder()
		router.ServeHTTP(respRecorder, req)
		assert.Equal(http.StatusBadRequest, respRecorder.Code)
		assert.Len(core.userEmits, 1)
	}

	// Case 3: malformed body is rejected
	{
		req, err := http.NewRequest(
			"POST", "/v1/emit/job/42", bytes.NewReader([]byte("not json")),
		)
		assert.Nil(err)
		respRecorder := httptest.NewRecorder()
		router.ServeHTTP(respRecorder, req)
		assert.Equal(http.StatusBadRequest, respRecorder.Code)
		assert.Empty(core.jobEmits)
	}

	// Case 4: emit to a job room
	{
		body, err := json.Marshal(ServerEmitRequest{
			Event:   "job:updated",
			Payload: map[string]interface{}{"status": "done"},
		})
		assert.Nil(err)
		req, err := http.NewRequest("POST", "/v1/emit/job/42", bytes.NewReader(body))
		assert.Nil(err)
		respRecorder := httptest.NewRecorder()
		router.ServeHTTP(respRecorder, req)
		assert.Equal(http.StatusOK, respRecorder.Code)
		assert.Len(core.jobEmits, 1)
		assert.Equal("42", core.jobEmits[0].target)
	}

	// Case 5: emit to a conversation thread
	{
		body, err := json.Marshal(ServerEmitRequest{Event: "message:new"})
		assert.Nil(err)
		req, err := http.NewRequest("POST", "/v1/emit/messages/42", bytes.NewReader(body))
		assert.Nil(err)
		respRecorder := httptest.NewRecorder()
		router.ServeHTTP(respRecorder, req)
		assert.Equal(http.StatusOK, respRecorder.Code)
		assert.Len(core.messageEmits, 1)
		assert.Equal("42", core.messageEmits[0].target)
	}

	// Case 6: broadcast
	{
		body, err := json.Marshal(ServerEmitRequest{
			Event:   "user:status",
			Payload: map[string]interface{}{"userId": "user-z", "status": "online"},
		})
		assert.Nil(err)
		req, err := http.NewRequest("POST", "/v1/broadcast", bytes.NewReader(body))
		assert.Nil(err)
		respRecorder := httptest.NewRecorder()
		router.ServeHTTP(respRecorder, req)
		assert.Equal(http.StatusOK, respRecorder.Code)
		assert.Len(core.broadcasts, 1)
		assert.Equal("user:status", core.broadcasts[0].event)
	}

	// Case 7: stats reflect the core snapshot
	{
		req, err := http.NewRequest("GET", "/v1/stats", nil)
		assert.Nil(err)
		respRecorder := httptest.NewRecorder()
		router.ServeHTTP(respRecorder, req)
		assert.Equal(http.StatusOK, respRecorder.Code)
		var parsed APIRestRespServerStats
		assert.Nil(json.Unmarshal(respRecorder.Body.Bytes(), &parsed))
		assert.True(parsed.Success)
		assert.Equal(3, parsed.ConnectedCount)
		assert.Equal(2, parsed.Rooms["job:42"])
		assert.Equal("local", parsed.FanoutMode)
	}
}

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

package router

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/Blessan-Corley/Fixly-sub007/auth"
	"github.com/Blessan-Corley/Fixly-sub007/common"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// Session is the router's handle on one live client connection. Send must be
// best-effort and non-blocking; a slow consumer never stalls a fan-out.
type Session interface {
	// ID the transport-assigned connection ID
	ID() string
	// User the identity attached at handshake
	User() auth.Identity
	// Send queue one outbound frame toward the client
	Send(event common.ServerEvent)
	// Close terminate the connection immediately
	Close()
}

// Fanout mirrors room publishes and broadcasts to sibling gateway processes.
// Implementations must be fire-and-forget: mirroring never blocks or fails
// local delivery.
type Fanout interface {
	// MirrorToRoom mirror a room publish across processes
	MirrorToRoom(room string, event common.ServerEvent)
	// MirrorBroadcast mirror a process-wide broadcast across processes
	MirrorBroadcast(event common.ServerEvent)
}

// ActivityObserver notified on every inbound operation from a connection
type ActivityObserver func(connID string)

// EventRouter joins connections to rooms and routes events between them, with
// every inbound operation gated through the permission evaluator.
type EventRouter interface {
	// RegisterSession attach a session. The session auto-joins the personal
	// room for its own identity, exactly once per connection lifetime.
	RegisterSession(session Session) error
	// UnregisterSession detach a session, releasing all membership state and
	// announcing the user going offline to all remaining connections.
	UnregisterSession(connID string)
	// HandleEvent process one inbound frame from a session
	HandleEvent(session Session, event common.ClientEvent)
	// PublishToRoom deliver an event to all local members of a room and
	// mirror it across the cluster
	PublishToRoom(room string, event common.ServerEvent)
	// Broadcast deliver an event to every local connection and mirror it
	// across the cluster
	Broadcast(event common.ServerEvent)
	// DeliverToRoom local-only room delivery, used when applying mirrored
	// publishes arriving from sibling processes
	DeliverToRoom(room string, event common.ServerEvent)
	// DeliverBroadcast local-only broadcast delivery
	DeliverBroadcast(event common.ServerEvent)
	// SessionCount number of connections currently attached
	SessionCount() int
	// RoomCounts per-room local membership summary
	RoomCounts() map[string]int
}

// eventRouterImpl implements EventRouter
type eventRouterImpl struct {
	common.Component
	rooms    *RoomIndex
	fanout   Fanout
	observer ActivityObserver
	validate *validator.Validate
	lock     sync.RWMutex
	sessions map[string]Session
}

// GetEventRouter define a new EventRouter. The fanout may be nil for purely
// process-local operation.
func GetEventRouter(fanout Fanout, observer ActivityObserver) (EventRouter, error) {
	logTags := log.Fields{
		"module": "router", "component": "event-router",
	}
	return &eventRouterImpl{
		Component: common.Component{LogTags: logTags},
		rooms:     NewRoomIndex(),
		fanout:    fanout,
		observer:  observer,
		validate:  validator.New(),
		sessions:  make(map[string]Session),
	}, nil
}

// RegisterSession attach a session and auto-join its personal room
func (r *eventRouterImpl) RegisterSession(session Session) error {
	connID := session.ID()
	identity := session.User()
	if identity.UserID == "" {
		return fmt.Errorf("session %s carries no identity", connID)
	}

	r.lock.Lock()
	if _, exists := r.sessions[connID]; exists {
		r.lock.Unlock()
		return fmt.Errorf("session %s already registered", connID)
	}
	r.sessions[connID] = session
	r.lock.Unlock()

	r.rooms.Join(UserRoom(identity.UserID), connID)
	log.WithFields(r.LogTags).Infof(
		"Registered session %s for user %s", connID, identity.UserID,
	)
	return nil
}

// UnregisterSession detach a session and announce the user offline
func (r *eventRouterImpl) UnregisterSession(connID string) {
	r.lock.Lock()
	session, ok := r.sessions[connID]
	delete(r.sessions, connID)
	r.lock.Unlock()
	if !ok {
		return
	}

	r.rooms.DropConn(connID)
	identity := session.User()
	log.WithFields(r.LogTags).Infof(
		"Unregistered session %s for user %s", connID, identity.UserID,
	)

	// Presence-offline announcement to everyone still connected
	r.Broadcast(common.ServerEvent{
		Event: common.EventUserStatus,
		Payload: common.Attributed(map[string]interface{}{
			"userId": identity.UserID,
			"status": "offline",
		}, identity.UserID),
	})
}

// HandleEvent process one inbound frame from a session
func (r *eventRouterImpl) HandleEvent(session Session, event common.ClientEvent) {
	if r.observer != nil {
		r.observer(session.ID())
	}

	switch event.Event {
	case common.OpHeartbeat, common.OpUserActive:
		// Liveness reset only, observed above

	case common.OpJoinJob:
		r.handleRoomChange(session, event, JobRoom, true)
	case common.OpLeaveJob:
		r.handleRoomChange(session, event, JobRoom, false)
	case common.OpJoinMessages:
		r.handleRoomChange(session, event, MessagesRoom, true)
	case common.OpLeaveMessages:
		r.handleRoomChange(session, event, MessagesRoom, false)

	case common.OpJobUpdate:
		r.handleJobUpdate(session, event)
	case common.OpApplicationUpdate:
		r.handleApplicationUpdate(session, event)
	case common.OpMessageSend:
		r.handleMessageSend(session, event)
	case common.OpTypingStart, common.OpTypingStop:
		r.handleTyping(session, event)
	case common.OpUserOnline, common.OpUserAway:
		r.handlePresence(session, event)
	case common.OpNotificationSend:
		r.handleNotification(session, event)

	case auth.OpModerateContent:
		r.handleModerateContent(session, event)
	case auth.OpForceDisconnect:
		r.handleForceDisconnect(session, event)

	default:
		log.WithFields(r.LogTags).Debugf(
			"Session %s sent unknown operation %s", session.ID(), event.Event,
		)
		session.Send(common.ErrorEvent(common.ReasonUnknownOperation, event.Event))
	}
}

// narrowPayload decode and validate an inbound payload into target
func (r *eventRouterImpl) narrowPayload(
	session Session, event common.ClientEvent, target interface{},
) bool {
	if err := json.Unmarshal(event.Payload, target); err != nil {
		session.Send(common.ErrorEvent(common.ReasonMalformedEvent, event.Event))
		return false
	}
	if err := r.validate.Struct(target); err != nil {
		session.Send(common.ErrorEvent(common.ReasonMalformedEvent, event.Event))
		return false
	}
	return true
}

// gate run the permission evaluator, reporting denial to the caller only
func (r *eventRouterImpl) gate(
	session Session, operation string, payload map[string]interface{},
) bool {
	if auth.Allowed(session.User(), operation, payload) {
		return true
	}
	log.WithFields(r.LogTags).Infof(
		"Denied %s for session %s", operation, session.ID(),
	)
	session.Send(common.ErrorEvent(common.ReasonPermissionDenied, operation))
	return false
}

// handleRoomChange join or leave a topic room
func (r *eventRouterImpl) handleRoomChange(
	session Session, event common.ClientEvent, roomName func(string) string, join bool,
) {
	var request common.JobRoomRequest
	if !r.narrowPayload(session, event, &request) {
		return
	}
	if !r.gate(session, auth.OpJoinTopicRoom, map[string]interface{}{"jobId": request.JobID}) {
		return
	}
	if join {
		r.rooms.Join(roomName(request.JobID), session.ID())
	} else {
		r.rooms.Leave(roomName(request.JobID), session.ID())
	}
}

// handleJobUpdate relay a job change to its discussion room. The update body
// is an opaque relay, joining the room is not required to publish.
func (r *eventRouterImpl) handleJobUpdate(session Session, event common.ClientEvent) {
	var request common.JobUpdateRequest
	if !r.narrowPayload(session, event, &request) {
		return
	}
	if !r.gate(session, auth.OpSendMessage, map[string]interface{}{"jobId": request.JobID}) {
		return
	}
	senderID := session.User().UserID
	r.PublishToRoom(JobRoom(request.JobID), common.ServerEvent{
		Event: common.EventJobUpdated,
		Payload: common.Attributed(map[string]interface{}{
			"jobId":     request.JobID,
			"update":    request.Update,
			"updatedBy": senderID,
		}, senderID),
	})
}

// handleApplicationUpdate relay an application status change, directly to the
// named recipient's personal room when one is given
func (r *eventRouterImpl) handleApplicationUpdate(session Session, event common.ClientEvent) {
	var request common.ApplicationUpdateRequest
	if !r.narrowPayload(session, event, &request) {
		return
	}
	if !r.gate(session, auth.OpSendMessage, map[string]interface{}{"jobId": request.JobID}) {
		return
	}
	senderID := session.User().UserID
	outbound := common.ServerEvent{
		Event: common.EventApplicationUpdated,
		Payload: common.Attributed(map[string]interface{}{
			"jobId":         request.JobID,
			"applicationId": request.ApplicationID,
			"status":        request.Status,
		}, senderID),
	}
	if request.To != "" {
		r.PublishToRoom(UserRoom(request.To), outbound)
	} else {
		r.PublishToRoom(JobRoom(request.JobID), outbound)
	}
}

// handleMessageSend relay a chat message to the thread room, plus the named
// recipient's personal room so the message lands even when the recipient is
// not viewing the thread
func (r *eventRouterImpl) handleMessageSend(session Session, event common.ClientEvent) {
	var request common.MessageSendRequest
	if !r.narrowPayload(session, event, &request) {
		return
	}
	if !r.gate(session, auth.OpSendMessage, map[string]interface{}{
		"jobId": request.JobID, "to": request.To,
	}) {
		return
	}
	senderID := session.User().UserID
	outbound := common.ServerEvent{
		Event: common.EventMessageNew,
		Payload: common.Attributed(map[string]interface{}{
			"jobId":   request.JobID,
			"message": request.Message,
		}, senderID),
	}
	r.PublishToRoom(MessagesRoom(request.JobID), outbound)
	if request.To != "" {
		r.PublishToRoom(UserRoom(request.To), outbound)
	}
}

// handleTyping unthrottled fire-and-forget relay of typing indicators
func (r *eventRouterImpl) handleTyping(session Session, event common.ClientEvent) {
	var request common.JobRoomRequest
	if !r.narrowPayload(session, event, &request) {
		return
	}
	if !r.gate(session, auth.OpSendMessage, map[string]interface{}{"jobId": request.JobID}) {
		return
	}
	r.PublishToRoom(MessagesRoom(request.JobID), common.ServerEvent{
		Event: event.Event,
		Payload: common.Attributed(map[string]interface{}{
			"jobId": request.JobID,
		}, session.User().UserID),
	})
}

// handlePresence process-wide presence signal, intentionally not room scoped
func (r *eventRouterImpl) handlePresence(session Session, event common.ClientEvent) {
	if !r.gate(session, auth.OpJoinTopicRoom, nil) {
		return
	}
	status := "online"
	if event.Event == common.OpUserAway {
		status = "away"
	}
	identity := session.User()
	r.Broadcast(common.ServerEvent{
		Event: common.EventUserStatus,
		Payload: common.Attributed(map[string]interface{}{
			"userId": identity.UserID,
			"status": status,
		}, identity.UserID),
	})
}

// handleNotification relay a payload to one recipient's personal room. No
// deduplication, no delivery confirmation.
func (r *eventRouterImpl) handleNotification(session Session, event common.ClientEvent) {
	var request common.NotificationSendRequest
	if !r.narrowPayload(session, event, &request) {
		return
	}
	if !r.gate(session, auth.OpSendMessage, map[string]interface{}{"to": request.To}) {
		return
	}
	r.PublishToRoom(UserRoom(request.To), common.ServerEvent{
		Event: common.EventNotificationNew,
		Payload: common.Attributed(map[string]interface{}{
			"notification": request.Notification,
		}, session.User().UserID),
	})
}

// handleModerateContent moderator-only opaque relay of a moderation action to
// the affected job's discussion room
func (r *eventRouterImpl) handleModerateContent(session Session, event common.ClientEvent) {
	var request common.ModerationRequest
	if !r.narrowPayload(session, event, &request) {
		return
	}
	if !r.gate(session, auth.OpModerateContent, map[string]interface{}{"jobId": request.JobID}) {
		return
	}
	r.PublishToRoom(JobRoom(request.JobID), common.ServerEvent{
		Event: event.Event,
		Payload: common.Attributed(map[string]interface{}{
			"jobId":     request.JobID,
			"contentId": request.ContentID,
			"action":    request.Action,
		}, session.User().UserID),
	})
}

// handleForceDisconnect moderator-only termination of a user's connections
func (r *eventRouterImpl) handleForceDisconnect(session Session, event common.ClientEvent) {
	var request common.ForceDisconnectRequest
	if !r.narrowPayload(session, event, &request) {
		return
	}
	if !r.gate(session, auth.OpForceDisconnect, map[string]interface{}{"userId": request.UserID}) {
		return
	}
	for _, connID := range r.rooms.Members(UserRoom(request.UserID)) {
		r.lock.RLock()
		target, ok := r.sessions[connID]
		r.lock.RUnlock()
		if ok {
			log.WithFields(r.LogTags).Infof(
				"Force disconnecting %s on request of %s", connID, session.User().UserID,
			)
			target.Close()
		}
	}
}

// ==============================================================================
// Delivery

// PublishToRoom deliver to local members and mirror across the cluster
func (r *eventRouterImpl) PublishToRoom(room string, event common.ServerEvent) {
	r.DeliverToRoom(room, event)
	if r.fanout != nil {
		r.fanout.MirrorToRoom(room, event)
	}
}

// Broadcast deliver to every local connection and mirror across the cluster
func (r *eventRouterImpl) Broadcast(event common.ServerEvent) {
	r.DeliverBroadcast(event)
	if r.fanout != nil {
		r.fanout.MirrorBroadcast(event)
	}
}

// DeliverToRoom local-only room delivery
func (r *eventRouterImpl) DeliverToRoom(room string, event common.ServerEvent) {
	for _, connID := range r.rooms.Members(room) {
		r.lock.RLock()
		session, ok := r.sessions[connID]
		r.lock.RUnlock()
		if ok {
			session.Send(event)
		}
	}
}

// DeliverBroadcast local-only process-wide delivery
func (r *eventRouterImpl) DeliverBroadcast(event common.ServerEvent) {
	r.lock.RLock()
	targets := make([]Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		targets = append(targets, session)
	}
	r.lock.RUnlock()
	for _, session := range targets {
		session.Send(event)
	}
}

// SessionCount number of connections currently attached
func (r *eventRouterImpl) SessionCount() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.sessions)
}

// RoomCounts per-room local membership summary
func (r *eventRouterImpl) RoomCounts() map[string]int {
	return r.rooms.Counts()
}

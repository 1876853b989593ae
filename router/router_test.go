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
	"testing"

	"github.com/Blessan-Corley/Fixly-sub007/auth"
	"github.com/Blessan-Corley/Fixly-sub007/common"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

// fakeSession in-memory Session for exercising the router without a transport
type fakeSession struct {
	id       string
	identity auth.Identity
	lock     sync.Mutex
	received []common.ServerEvent
	closed   bool
}

func newFakeSession(id, userID, role string) *fakeSession {
	return &fakeSession{
		id: id, identity: auth.Identity{UserID: userID, Name: userID, Role: role},
	}
}

func (s *fakeSession) ID() string          { return s.id }
func (s *fakeSession) User() auth.Identity { return s.identity }

func (s *fakeSession) Send(event common.ServerEvent) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.received = append(s.received, event)
}

func (s *fakeSession) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
}

func (s *fakeSession) events() []common.ServerEvent {
	s.lock.Lock()
	defer s.lock.Unlock()
	result := make([]common.ServerEvent, len(s.received))
	copy(result, s.received)
	return result
}

func (s *fakeSession) drain() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.received = nil
}

func inbound(t *testing.T, operation string, payload interface{}) common.ClientEvent {
	t.Helper()
	if payload == nil {
		return common.ClientEvent{Event: operation}
	}
	raw, err := json.Marshal(payload)
	assert.Nil(t, err)
	return common.ClientEvent{Event: operation, Payload: raw}
}

// recordingFanout captures cluster mirror requests
type recordingFanout struct {
	lock       sync.Mutex
	rooms      []string
	broadcasts int
}

func (f *recordingFanout) MirrorToRoom(room string, event common.ServerEvent) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.rooms = append(f.rooms, room)
}

func (f *recordingFanout) MirrorBroadcast(event common.ServerEvent) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.broadcasts++
}

func TestSessionRegistration(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	uut, err := GetEventRouter(nil, nil)
	assert.Nil(err)

	// Case 0: a session without identity is refused
	{
		assert.NotNil(uut.RegisterSession(newFakeSession("conn-0", "", "")))
	}

	// Case 1: registration auto-joins the personal room exactly once
	{
		session := newFakeSession("conn-1", "user-1", auth.RoleRequester)
		assert.Nil(uut.RegisterSession(session))
		assert.Equal(1, uut.SessionCount())
		assert.Equal(map[string]int{UserRoom("user-1"): 1}, uut.RoomCounts())

		// Duplicate registration is an error, membership unchanged
		assert.NotNil(uut.RegisterSession(session))
		assert.Equal(map[string]int{UserRoom("user-1"): 1}, uut.RoomCounts())
	}

	// Case 2: unregistration releases state and announces offline
	{
		other := newFakeSession("conn-2", "user-2", auth.RoleRequester)
		assert.Nil(uut.RegisterSession(other))

		uut.UnregisterSession("conn-1")
		assert.Equal(1, uut.SessionCount())
		assert.Equal(map[string]int{UserRoom("user-2"): 1}, uut.RoomCounts())

		announcements := other.events()
		assert.Len(announcements, 1)
		assert.Equal(common.EventUserStatus, announcements[0].Event)
		assert.Equal("user-1", announcements[0].Payload["userId"])
		assert.Equal("offline", announcements[0].Payload["status"])
	}
}

func TestMessageFanout(t *testing.T) {
	assert := assert.New(t)

	fanout := &recordingFanout{}
	uut, err := GetEventRouter(fanout, nil)
	assert.Nil(err)

	sender := newFakeSession("conn-a", "user-a", auth.RoleRequester)
	member := newFakeSession("conn-b", "user-b", auth.RoleProvider)
	outsider := newFakeSession("conn-c", "user-c", auth.RoleProvider)
	for _, session := range []*fakeSession{sender, member, outsider} {
		assert.Nil(uut.RegisterSession(session))
	}

	uut.HandleEvent(sender, inbound(t, common.OpJoinMessages, map[string]string{"jobId": "X"}))
	uut.HandleEvent(member, inbound(t, common.OpJoinMessages, map[string]string{"jobId": "X"}))

	// A message without a recipient reaches every thread member and nobody else
	uut.HandleEvent(sender, inbound(t, common.OpMessageSend, map[string]interface{}{
		"jobId":   "X",
		"message": map[string]interface{}{"body": "hello"},
	}))

	for _, session := range []*fakeSession{sender, member} {
		delivered := session.events()
		assert.Len(delivered, 1)
		assert.Equal(common.EventMessageNew, delivered[0].Event)
		assert.Equal("user-a", delivered[0].Payload["senderId"])
		assert.NotNil(delivered[0].Payload["timestamp"])
	}
	assert.Empty(outsider.events())

	// The publish was mirrored to the thread room only
	assert.Equal([]string{MessagesRoom("X")}, fanout.rooms)

	// Dual delivery: a targeted message also lands in the recipient's personal room
	sender.drain()
	member.drain()
	uut.HandleEvent(sender, inbound(t, common.OpMessageSend, map[string]interface{}{
		"jobId":   "X",
		"message": map[string]interface{}{"body": "for you"},
		"to":      "user-c",
	}))
	assert.Len(outsider.events(), 1)
	assert.Equal(common.EventMessageNew, outsider.events()[0].Event)
	assert.Len(member.events(), 1)
}

func TestJobUpdateRelay(t *testing.T) {
	assert := assert.New(t)

	uut, err := GetEventRouter(nil, nil)
	assert.Nil(err)

	// Identity A joins job:42, identity B publishes from outside the room
	memberA := newFakeSession("conn-a", "user-a", auth.RoleProvider)
	senderB := newFakeSession("conn-b", "user-b", auth.RoleRequester)
	assert.Nil(uut.RegisterSession(memberA))
	assert.Nil(uut.RegisterSession(senderB))

	uut.HandleEvent(memberA, inbound(t, common.OpJoinJob, map[string]string{"jobId": "42"}))

	uut.HandleEvent(senderB, inbound(t, common.OpJobUpdate, map[string]interface{}{
		"jobId":  "42",
		"update": map[string]interface{}{"status": "done"},
	}))

	// Join is not required to publish, delivery still occurs
	delivered := memberA.events()
	assert.Len(delivered, 1)
	assert.Equal(common.EventJobUpdated, delivered[0].Event)
	assert.Equal("user-b", delivered[0].Payload["updatedBy"])
	assert.NotNil(delivered[0].Payload["timestamp"])
	update, ok := delivered[0].Payload["update"].(map[string]interface{})
	assert.True(ok)
	assert.Equal("done", update["status"])

	// B is not in the room, so B receives nothing back
	assert.Empty(senderB.events())
}

func TestPermissionDenialKeepsConnectionUsable(t *testing.T) {
	assert := assert.New(t)

	uut, err := GetEventRouter(nil, nil)
	assert.Nil(err)

	caller := newFakeSession("conn-1", "user-1", auth.RoleRequester)
	assert.Nil(uut.RegisterSession(caller))

	// A non-moderator calling moderate_content gets a stable denial code
	uut.HandleEvent(caller, inbound(t, auth.OpModerateContent, map[string]string{
		"jobId": "42", "contentId": "c-1", "action": "hide",
	}))
	denied := caller.events()
	assert.Len(denied, 1)
	assert.Equal(common.EventError, denied[0].Event)
	assert.Equal(common.ReasonPermissionDenied, denied[0].Payload["reason"])
	assert.False(caller.closed)

	// The connection can still operate afterwards
	caller.drain()
	uut.HandleEvent(caller, inbound(t, common.OpJoinJob, map[string]string{"jobId": "42"}))
	assert.Empty(caller.events())
	assert.Equal(1, uut.RoomCounts()[JobRoom("42")])
}

func TestModerationOperations(t *testing.T) {
	assert := assert.New(t)

	uut, err := GetEventRouter(nil, nil)
	assert.Nil(err)

	moderator := newFakeSession("conn-m", "user-m", auth.RoleModerator)
	target := newFakeSession("conn-t", "user-t", auth.RoleRequester)
	assert.Nil(uut.RegisterSession(moderator))
	assert.Nil(uut.RegisterSession(target))

	// Moderation relays to the job room for members
	uut.HandleEvent(target, inbound(t, common.OpJoinJob, map[string]string{"jobId": "42"}))
	uut.HandleEvent(moderator, inbound(t, auth.OpModerateContent, map[string]string{
		"jobId": "42", "contentId": "c-9", "action": "remove",
	}))
	relayed := target.events()
	assert.Len(relayed, 1)
	assert.Equal(auth.OpModerateContent, relayed[0].Event)
	assert.Equal("c-9", relayed[0].Payload["contentId"])

	// Force disconnect closes every connection of the named user
	uut.HandleEvent(moderator, inbound(t, auth.OpForceDisconnect, map[string]string{
		"userId": "user-t",
	}))
	assert.True(target.closed)
	assert.False(moderator.closed)
}

func TestPresenceBroadcast(t *testing.T) {
	assert := assert.New(t)

	fanout := &recordingFanout{}
	uut, err := GetEventRouter(fanout, nil)
	assert.Nil(err)

	sessions := make([]*fakeSession, 3)
	for i := range sessions {
		sessions[i] = newFakeSession(
			fmt.Sprintf("conn-%d", i), fmt.Sprintf("user-%d", i), auth.RoleProvider,
		)
		assert.Nil(uut.RegisterSession(sessions[i]))
	}

	// user:away reaches every connection process-wide, not room scoped
	uut.HandleEvent(sessions[0], inbound(t, common.OpUserAway, nil))
	for _, session := range sessions {
		delivered := session.events()
		assert.Len(delivered, 1)
		assert.Equal(common.EventUserStatus, delivered[0].Event)
		assert.Equal("user-0", delivered[0].Payload["userId"])
		assert.Equal("away", delivered[0].Payload["status"])
	}
	assert.Equal(1, fanout.broadcasts)
}

func TestActivityObservation(t *testing.T) {
	assert := assert.New(t)

	var observed []string
	uut, err := GetEventRouter(nil, func(connID string) {
		observed = append(observed, connID)
	})
	assert.Nil(err)

	session := newFakeSession("conn-1", "user-1", auth.RoleRequester)
	assert.Nil(uut.RegisterSession(session))

	// Every inbound operation counts as activity, heartbeat included
	uut.HandleEvent(session, inbound(t, common.OpHeartbeat, nil))
	uut.HandleEvent(session, inbound(t, common.OpUserActive, nil))
	uut.HandleEvent(session, inbound(t, common.OpJoinJob, map[string]string{"jobId": "1"}))
	assert.Equal([]string{"conn-1", "conn-1", "conn-1"}, observed)

	// Heartbeats change nothing else that is observable
	assert.Empty(session.events())
	assert.Equal(
		map[string]int{UserRoom("user-1"): 1, JobRoom("1"): 1}, uut.RoomCounts(),
	)
}

func TestMalformedAndUnknownEvents(t *testing.T) {
	assert := assert.New(t)

	uut, err := GetEventRouter(nil, nil)
	assert.Nil(err)

	session := newFakeSession("conn-1", "user-1", auth.RoleRequester)
	assert.Nil(uut.RegisterSession(session))

	// Case 0: unknown operation
	{
		uut.HandleEvent(session, inbound(t, "no_such_op", nil))
		delivered := session.events()
		assert.Len(delivered, 1)
		assert.Equal(common.ReasonUnknownOperation, delivered[0].Payload["reason"])
		session.drain()
	}

	// Case 1: payload fails validation
	{
		uut.HandleEvent(session, inbound(t, common.OpJoinJob, map[string]string{}))
		delivered := session.events()
		assert.Len(delivered, 1)
		assert.Equal(common.ReasonMalformedEvent, delivered[0].Payload["reason"])
		session.drain()
	}

	// Case 2: payload is not JSON
	{
		uut.HandleEvent(session, common.ClientEvent{
			Event: common.OpJoinJob, Payload: []byte("not json"),
		})
		delivered := session.events()
		assert.Len(delivered, 1)
		assert.Equal(common.ReasonMalformedEvent, delivered[0].Payload["reason"])
	}
}

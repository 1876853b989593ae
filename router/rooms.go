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
	"fmt"
	"sync"
)

// Room name builders. A room is a named fan-out group: one personal room per
// user, one discussion room per job posting, one room per conversation thread.

// UserRoom the personal notification room for a user
func UserRoom(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

// JobRoom the discussion room for a job posting
func JobRoom(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// MessagesRoom the room for a conversation thread
func MessagesRoom(jobID string) string {
	return fmt.Sprintf("messages:%s", jobID)
}

// RoomIndex is the explicit connection <-> room membership bookkeeping: a
// bidirectional index guarded by one lock. Membership is derived live from
// joined connections, nothing here is persisted.
type RoomIndex struct {
	lock   sync.RWMutex
	byRoom map[string]map[string]bool
	byConn map[string]map[string]bool
}

// NewRoomIndex define a new RoomIndex
func NewRoomIndex() *RoomIndex {
	return &RoomIndex{
		byRoom: make(map[string]map[string]bool),
		byConn: make(map[string]map[string]bool),
	}
}

// Join add a connection to a room. Idempotent.
func (x *RoomIndex) Join(room, connID string) {
	x.lock.Lock()
	defer x.lock.Unlock()
	if x.byRoom[room] == nil {
		x.byRoom[room] = make(map[string]bool)
	}
	x.byRoom[room][connID] = true
	if x.byConn[connID] == nil {
		x.byConn[connID] = make(map[string]bool)
	}
	x.byConn[connID][room] = true
}

// Leave remove a connection from a room
func (x *RoomIndex) Leave(room, connID string) {
	x.lock.Lock()
	defer x.lock.Unlock()
	if members, ok := x.byRoom[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(x.byRoom, room)
		}
	}
	if rooms, ok := x.byConn[connID]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(x.byConn, connID)
		}
	}
}

// DropConn remove a connection from every room it joined
func (x *RoomIndex) DropConn(connID string) {
	x.lock.Lock()
	defer x.lock.Unlock()
	for room := range x.byConn[connID] {
		if members, ok := x.byRoom[room]; ok {
			delete(members, connID)
			if len(members) == 0 {
				delete(x.byRoom, room)
			}
		}
	}
	delete(x.byConn, connID)
}

// Members list the connections currently in a room
func (x *RoomIndex) Members(room string) []string {
	x.lock.RLock()
	defer x.lock.RUnlock()
	members := x.byRoom[room]
	if len(members) == 0 {
		return nil
	}
	result := make([]string, 0, len(members))
	for connID := range members {
		result = append(result, connID)
	}
	return result
}

// Rooms list the rooms a connection has joined
func (x *RoomIndex) Rooms(connID string) []string {
	x.lock.RLock()
	defer x.lock.RUnlock()
	rooms := x.byConn[connID]
	if len(rooms) == 0 {
		return nil
	}
	result := make([]string, 0, len(rooms))
	for room := range rooms {
		result = append(result, room)
	}
	return result
}

// InRoom check one membership
func (x *RoomIndex) InRoom(room, connID string) bool {
	x.lock.RLock()
	defer x.lock.RUnlock()
	return x.byRoom[room][connID]
}

// Counts per-room member counts
func (x *RoomIndex) Counts() map[string]int {
	x.lock.RLock()
	defer x.lock.RUnlock()
	result := make(map[string]int, len(x.byRoom))
	for room, members := range x.byRoom {
		result[room] = len(members)
	}
	return result
}

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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomIndex(t *testing.T) {
	assert := assert.New(t)

	uut := NewRoomIndex()

	// Case 0: empty index
	{
		assert.Nil(uut.Members(JobRoom("1")))
		assert.Nil(uut.Rooms("conn-1"))
		assert.False(uut.InRoom(JobRoom("1"), "conn-1"))
		assert.Empty(uut.Counts())
	}

	// Case 1: join maintains both directions
	{
		uut.Join(JobRoom("1"), "conn-1")
		uut.Join(JobRoom("1"), "conn-2")
		uut.Join(MessagesRoom("1"), "conn-1")

		assert.ElementsMatch([]string{"conn-1", "conn-2"}, uut.Members(JobRoom("1")))
		assert.ElementsMatch(
			[]string{JobRoom("1"), MessagesRoom("1")}, uut.Rooms("conn-1"),
		)
		assert.True(uut.InRoom(JobRoom("1"), "conn-2"))
		assert.Equal(
			map[string]int{JobRoom("1"): 2, MessagesRoom("1"): 1}, uut.Counts(),
		)
	}

	// Case 2: join is idempotent
	{
		uut.Join(JobRoom("1"), "conn-1")
		assert.Equal(2, uut.Counts()[JobRoom("1")])
	}

	// Case 3: leave cleans up empty rooms
	{
		uut.Leave(JobRoom("1"), "conn-2")
		assert.ElementsMatch([]string{"conn-1"}, uut.Members(JobRoom("1")))
		uut.Leave(JobRoom("1"), "conn-1")
		assert.Nil(uut.Members(JobRoom("1")))
		assert.NotContains(uut.Counts(), JobRoom("1"))
	}

	// Case 4: dropping a connection clears every membership
	{
		uut.Join(JobRoom("2"), "conn-1")
		uut.Join(MessagesRoom("2"), "conn-1")
		uut.DropConn("conn-1")
		assert.Nil(uut.Rooms("conn-1"))
		assert.Empty(uut.Counts())
	}
}

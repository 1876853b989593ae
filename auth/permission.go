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

package auth

// Gated operation classes checked by the permission evaluator
const (
	OpJoinTopicRoom   = "join_topic_room"
	OpSendMessage     = "send_message"
	OpModerateContent = "moderate_content"
	OpForceDisconnect = "force_disconnect"
)

// Allowed decides whether identity may perform operation. Pure function, no
// I/O. Unknown operations are denied.
//
// join_topic_room is granted to any authenticated identity: rooms are
// discussion spaces, resource-level authorization ("may this user see this
// job") is enforced upstream by the REST layer before a room name ever
// reaches a client.
func Allowed(identity Identity, operation string, payload map[string]interface{}) bool {
	if identity.UserID == "" {
		return false
	}
	if identity.Role == RoleAdmin {
		return true
	}

	switch operation {
	case OpJoinTopicRoom:
		return true
	case OpSendMessage:
		return namesTarget(payload)
	case OpModerateContent, OpForceDisconnect:
		return identity.Role == RoleModerator
	default:
		return false
	}
}

// namesTarget checks that the payload names a target room or thread
func namesTarget(payload map[string]interface{}) bool {
	for _, key := range []string{"jobId", "room", "to"} {
		if value, ok := payload[key].(string); ok && value != "" {
			return true
		}
	}
	return false
}

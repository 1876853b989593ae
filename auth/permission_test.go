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

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermissionRuleTable(t *testing.T) {
	assert := assert.New(t)

	targeted := map[string]interface{}{"jobId": "j-1"}
	untargeted := map[string]interface{}{"body": "hello"}

	type expectation struct {
		operation string
		payload   map[string]interface{}
		byRole    map[string]bool
	}

	// Every (role x operation) combination, checked independently of the router
	cases := []expectation{
		{
			operation: OpJoinTopicRoom,
			payload:   targeted,
			byRole: map[string]bool{
				RoleAdmin: true, RoleModerator: true, RoleProvider: true, RoleRequester: true,
			},
		},
		{
			operation: OpSendMessage,
			payload:   targeted,
			byRole: map[string]bool{
				RoleAdmin: true, RoleModerator: true, RoleProvider: true, RoleRequester: true,
			},
		},
		{
			operation: OpSendMessage,
			payload:   untargeted,
			byRole: map[string]bool{
				RoleAdmin: true, RoleModerator: false, RoleProvider: false, RoleRequester: false,
			},
		},
		{
			operation: OpModerateContent,
			payload:   targeted,
			byRole: map[string]bool{
				RoleAdmin: true, RoleModerator: true, RoleProvider: false, RoleRequester: false,
			},
		},
		{
			operation: OpForceDisconnect,
			payload:   nil,
			byRole: map[string]bool{
				RoleAdmin: true, RoleModerator: true, RoleProvider: false, RoleRequester: false,
			},
		},
		{
			// Unrecognized operations fail closed
			operation: "make_me_admin",
			payload:   targeted,
			byRole: map[string]bool{
				RoleAdmin: true, RoleModerator: false, RoleProvider: false, RoleRequester: false,
			},
		},
	}

	for _, oneCase := range cases {
		for role, expected := range oneCase.byRole {
			identity := Identity{UserID: "user-1", Name: "Unit Test", Role: role}
			assert.Equalf(
				expected,
				Allowed(identity, oneCase.operation, oneCase.payload),
				"role %s operation %s", role, oneCase.operation,
			)
		}
	}
}

func TestPermissionUnauthenticatedIdentity(t *testing.T) {
	assert := assert.New(t)

	// A blank identity is denied everything, admin role included
	blank := Identity{Role: RoleAdmin}
	for _, operation := range []string{
		OpJoinTopicRoom, OpSendMessage, OpModerateContent, OpForceDisconnect,
	} {
		assert.Falsef(
			Allowed(blank, operation, map[string]interface{}{"jobId": "j-1"}),
			fmt.Sprintf("operation %s", operation),
		)
	}
}

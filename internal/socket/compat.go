// ABOUTME: Normalizes legacy socket event names and payload shapes onto canonical frames
// ABOUTME: Accepts bare-string room ids, camelCase keys and the isAdmin role flag

package socket

import (
	"encoding/json"
	"strconv"

	"github.com/2389/hostel-messaging/internal/messaging"
)

// legacyEvents maps older client event names onto canonical ones.
var legacyEvents = map[string]string{
	"joinConversation":  EventJoinRoom,
	"leaveConversation": EventLeaveRoom,
	"typing":            EventTypingStart,
	"stopTyping":        EventTypingStop,
	"markDelivered":     EventMessageDelivered,
	"markRead":          EventMessageRead,
}

// legacyKeys maps camelCase payload keys onto canonical snake_case keys.
var legacyKeys = map[string]string{
	"conversationId": "conversation_id",
	"messageId":      "message_id",
	"userId":         "actor_id",
	"actorId":        "actor_id",
	"actorRole":      "actor_role",
}

// normalizeFrame rewrites a legacy frame into canonical form. Canonical keys
// win when both spellings are present.
func normalizeFrame(f Frame) (Frame, error) {
	if canonical, ok := legacyEvents[f.Event]; ok {
		f.Event = canonical
	}
	if len(f.Data) == 0 {
		return f, nil
	}

	// Older clients send the conversation id as a bare string
	var id string
	if err := json.Unmarshal(f.Data, &id); err == nil {
		data, err := json.Marshal(map[string]string{"conversation_id": id})
		if err != nil {
			return f, err
		}
		f.Data = data
		return f, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(f.Data, &fields); err != nil {
		return f, &messaging.Error{Kind: messaging.KindValidation, Message: "invalid event data"}
	}

	changed := false
	for legacy, canonical := range legacyKeys {
		v, ok := fields[legacy]
		if !ok {
			continue
		}
		delete(fields, legacy)
		changed = true
		if _, exists := fields[canonical]; !exists {
			fields[canonical] = v
		}
	}

	if raw, ok := fields["isAdmin"]; ok {
		delete(fields, "isAdmin")
		changed = true
		isAdmin, err := parseFlag(raw)
		if err != nil {
			return f, &messaging.Error{Kind: messaging.KindValidation, Message: "isAdmin must be a boolean"}
		}
		if _, exists := fields["actor_role"]; !exists {
			role := `"participant"`
			if isAdmin {
				role = `"support"`
			}
			fields["actor_role"] = json.RawMessage(role)
		}
	}

	if !changed {
		return f, nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return f, err
	}
	f.Data = data
	return f, nil
}

// parseFlag reads a JSON boolean or its string form ("true", "0", ...).
func parseFlag(raw json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false, err
	}
	return strconv.ParseBool(s)
}

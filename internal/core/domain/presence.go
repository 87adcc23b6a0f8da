package domain

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

type MessageType int

const (
	MessageJoin MessageType = iota
	MessageHello
	MessageLeave
	MessageChat
)

func (t MessageType) String() string {
	switch t {
	case MessageJoin:
		return "join"
	case MessageHello:
		return "hello"
	case MessageLeave:
		return "leave"
	case MessageChat:
		return "chat"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// PresenceMessage is what a gateway announces about its local user to the
// chatroom. Join and Hello both mean "alive"; Join additionally tells
// receivers they may not know this peer yet.
type PresenceMessage struct {
	Type  MessageType
	User  Peer
	Extra []byte
}

// presenceRecord is the wire form. Leave records carry no extra.
type presenceRecord struct {
	MsgType MessageType `cbor:"msgType"`
	User    Peer        `cbor:"user"`
	Extra   []byte      `cbor:"extra,omitempty"`
}

var (
	presenceEncMode cbor.EncMode
	presenceDecMode cbor.DecMode
)

func init() {
	var err error
	presenceEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("domain: CBOR encoder initialization failed: " + err.Error())
	}
	presenceDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("domain: CBOR decoder initialization failed: " + err.Error())
	}
}

func EncodePresence(msg PresenceMessage) ([]byte, error) {
	rec := presenceRecord{MsgType: msg.Type, User: msg.User}
	if msg.Type != MessageLeave {
		rec.Extra = msg.Extra
	}
	return presenceEncMode.Marshal(rec)
}

func DecodePresence(raw []byte) (PresenceMessage, error) {
	var rec presenceRecord
	if err := presenceDecMode.Unmarshal(raw, &rec); err != nil {
		return PresenceMessage{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if rec.MsgType < MessageJoin || rec.MsgType > MessageChat {
		return PresenceMessage{}, fmt.Errorf("%w: unknown message type %d", ErrDecode, rec.MsgType)
	}
	if rec.User.UID == "" {
		return PresenceMessage{}, fmt.Errorf("%w: message without user", ErrDecode)
	}
	msg := PresenceMessage{Type: rec.MsgType, User: rec.User}
	if rec.MsgType != MessageLeave {
		msg.Extra = rec.Extra
	}
	return msg, nil
}

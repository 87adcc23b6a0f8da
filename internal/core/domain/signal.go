package domain

import (
	"encoding/json"
	"fmt"
)

// Browser-facing event names.
const (
	EventJoinRoom      = "join_room"
	EventMediaReady    = "media_ready"
	EventSendOffer     = "send_offer"
	EventSendICE       = "send_ice_candidate"
	EventChatMessage   = "chat_msg"
	EventGetPeers      = "get_peers"
	EventNewPeer       = "new_peer_connected"
	EventRemovePeer    = "remove_peer_connected"
	EventReceiveOffer  = "receive_offer"
	EventReceiveAnswer = "receive_answer"
	EventReceiveICE    = "receive_ice_candidate"
	EventReceiveChat   = "receive_chat_msg"
	EventSignalError   = "error"
)

// RTCMessage is the envelope exchanged with the browser signaling client.
type RTCMessage struct {
	EventName string  `json:"eventName"`
	Data      RTCData `json:"data"`
}

type RTCData struct {
	SDP         string    `json:"sdp,omitempty"`
	SocketID    string    `json:"socketId,omitempty"`
	Candidate   string    `json:"candidate,omitempty"`
	Label       *uint16   `json:"label,omitempty"`
	Room        string    `json:"room,omitempty"`
	Connections *[]string `json:"connections,omitempty"`
	Messages    string    `json:"messages,omitempty"`
	Username    string    `json:"username,omitempty"`
	Color       string    `json:"color,omitempty"`
}

func NewRTCMessage(event string, data RTCData) *RTCMessage {
	return &RTCMessage{EventName: event, Data: data}
}

func (m *RTCMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

func UnmarshalRTCMessage(raw []byte) (*RTCMessage, error) {
	var msg RTCMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if msg.EventName == "" {
		return nil, fmt.Errorf("%w: missing eventName", ErrDecode)
	}
	return &msg, nil
}

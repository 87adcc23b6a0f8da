package domain

import (
	"strings"

	"ccngate/pkg/softstate"
)

const (
	mediaComponent   = "media"
	controlComponent = "ctrl"
	sdpComponent     = "sdp"
)

// Peer is the identity shared by the local user and every remote user.
// All routable names of a peer derive from these three fields.
type Peer struct {
	Nick   string `json:"nick" cbor:"nick"`
	Prefix string `json:"prefix" cbor:"syncPrefixRoot"`
	UID    string `json:"uid" cbor:"uid"`
}

func NewPeer(nick, prefix, uid string) Peer {
	return Peer{Nick: nick, Prefix: prefix, UID: uid}
}

// SyncPrefix returns {prefix}/{nick}/{uid}.
func (p Peer) SyncPrefix() string {
	return JoinName(p.Prefix, p.Nick, p.UID)
}

// MediaPrefix returns {prefix}/{nick}/{uid}/media.
func (p Peer) MediaPrefix() string {
	return JoinName(p.SyncPrefix(), mediaComponent)
}

// ControlPrefix returns {prefix}/{nick}/{uid}/ctrl.
func (p Peer) ControlPrefix() string {
	return JoinName(p.SyncPrefix(), controlComponent)
}

// ControlPrefixFor returns the control stream this peer produces for one viewer.
func (p Peer) ControlPrefixFor(viewerUID string) string {
	return JoinName(p.ControlPrefix(), viewerUID)
}

// SDPPrefix returns {prefix}/{nick}/{uid}/sdp.
func (p Peer) SDPPrefix() string {
	return JoinName(p.SyncPrefix(), sdpComponent)
}

func (p Peer) IsZero() bool {
	return p.UID == ""
}

// RemotePeer is a roster entry: a remote identity plus its liveness.
type RemotePeer struct {
	Peer
	Liveness softstate.State
}

func (r *RemotePeer) SoftState() *softstate.State {
	return &r.Liveness
}

// JoinName joins name components with "/", trimming a trailing
// separator from the root.
func JoinName(root string, components ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(root, "/"))
	for _, c := range components {
		b.WriteByte('/')
		b.WriteString(c)
	}
	return b.String()
}

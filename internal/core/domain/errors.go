package domain

import (
	"errors"

	"ccngate/pkg/softstate"
)

var (
	ErrNotFound          = softstate.ErrNotFound
	ErrDecode            = errors.New("malformed record")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrInvalidName       = errors.New("invalid name")
	ErrInvalidCandidate  = errors.New("invalid ice candidate")
	ErrSessionNotRunning = errors.New("session not running")
	ErrSessionActive     = errors.New("session already active")
	ErrTransportClosed   = errors.New("transport closed")
	ErrUnknownEvent      = errors.New("unknown signaling event")
)

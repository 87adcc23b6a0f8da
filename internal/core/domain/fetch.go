package domain

type StreamingState int

const (
	StreamingStopped StreamingState = iota
	StreamingProbing
	StreamingActive
)

func (s StreamingState) String() string {
	switch s {
	case StreamingStopped:
		return "stopped"
	case StreamingProbing:
		return "probing"
	case StreamingActive:
		return "streaming"
	default:
		return "unknown"
	}
}

// RemoteFetchState tracks how far the local session has pulled one remote
// peer's media stream. FetchedSeq never exceeds RequestedSeq.
type RemoteFetchState struct {
	Peer                Peer
	RequestedSeq        uint64
	FetchedSeq          uint64
	State               StreamingState
	ConsecutiveTimeouts int
	// Outstanding counts media requests not yet answered or timed out,
	// across resets. Requests issued before a reset still resolve.
	Outstanding int

	// ICECandidate holds the rewritten candidate until the remote SDP
	// has been handed to the browser.
	ICECandidate  *RTCMessage
	SDPAnswerSent bool

	ControlChainActive bool
}

func NewRemoteFetchState(peer Peer) *RemoteFetchState {
	return &RemoteFetchState{Peer: peer, State: StreamingStopped}
}

// Reset drops sequence tracking so the next tick probes again.
func (s *RemoteFetchState) Reset() {
	s.RequestedSeq = 0
	s.FetchedSeq = 0
	s.ConsecutiveTimeouts = 0
	s.State = StreamingStopped
}

func (s *RemoteFetchState) InFlight() uint64 {
	return s.RequestedSeq - s.FetchedSeq
}

// Stalled reports a full window that nothing outstanding can drain.
func (s *RemoteFetchState) Stalled(window uint64) bool {
	return s.State == StreamingActive && s.InFlight() >= window && s.Outstanding == 0
}

// FetchSnapshot is a copy of a RemoteFetchState safe to hand out.
type FetchSnapshot struct {
	UID                 string `json:"uid"`
	Nick                string `json:"nick"`
	State               string `json:"state"`
	RequestedSeq        uint64 `json:"requested_seq"`
	FetchedSeq          uint64 `json:"fetched_seq"`
	ConsecutiveTimeouts int    `json:"consecutive_timeouts"`
	SDPAnswerSent       bool   `json:"sdp_answer_sent"`
	CandidatePending    bool   `json:"candidate_pending"`
}

func (s *RemoteFetchState) Snapshot() FetchSnapshot {
	return FetchSnapshot{
		UID:                 s.Peer.UID,
		Nick:                s.Peer.Nick,
		State:               s.State.String(),
		RequestedSeq:        s.RequestedSeq,
		FetchedSeq:          s.FetchedSeq,
		ConsecutiveTimeouts: s.ConsecutiveTimeouts,
		SDPAnswerSent:       s.SDPAnswerSent,
		CandidatePending:    s.ICECandidate != nil,
	}
}

package media

import (
	"errors"
	"fmt"

	"ccngate/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/stun"
)

var ErrUnknownDatagram = errors.New("unknown datagram")

// rtcpTypeMax is the highest payload type treated as RTCP.
const rtcpTypeMax rtcp.PacketType = 208

// Classify demultiplexes a datagram received on the shared browser port.
// Anything whose first two bits are zero (STUN, and DTLS riding along
// with it) belongs to the control stream.
func Classify(b []byte) (domain.DatagramKind, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("%w: empty", ErrUnknownDatagram)
	}
	if stun.IsMessage(b) || b[0]>>6 == 0 {
		return domain.DatagramSTUN, nil
	}
	if b[0]>>6 != 2 {
		return 0, fmt.Errorf("%w: first byte %#x", ErrUnknownDatagram, b[0])
	}

	var h rtcp.Header
	if err := h.Unmarshal(b); err == nil && h.Type >= rtcp.TypeSenderReport && h.Type <= rtcpTypeMax {
		return domain.DatagramRTCP, nil
	}

	var rh rtp.Header
	if _, err := rh.Unmarshal(b); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnknownDatagram, err)
	}
	return domain.DatagramRTP, nil
}

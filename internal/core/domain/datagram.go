package domain

// DatagramKind classifies a UDP datagram from the local browser.
type DatagramKind int

const (
	DatagramRTP DatagramKind = iota
	DatagramRTCP
	DatagramSTUN
)

func (k DatagramKind) String() string {
	switch k {
	case DatagramRTP:
		return "rtp"
	case DatagramRTCP:
		return "rtcp"
	case DatagramSTUN:
		return "stun"
	default:
		return "unknown"
	}
}

// IsControl reports whether the datagram belongs to a per-connection
// control stream rather than the shared media stream.
func (k DatagramKind) IsControl() bool {
	return k == DatagramRTCP || k == DatagramSTUN
}

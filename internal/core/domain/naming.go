package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// SeqName returns {prefix}/{seq}.
func SeqName(prefix string, seq uint64) string {
	return JoinName(prefix, strconv.FormatUint(seq, 10))
}

func nameComponents(name string) []string {
	return strings.Split(strings.TrimRight(name, "/"), "/")
}

// ParseMediaName recovers the producer uid and sequence from
// {prefix}/{nick}/{uid}/media/{seq}.
func ParseMediaName(name string) (uid string, seq uint64, err error) {
	comps := nameComponents(name)
	n := len(comps)
	if n < 4 || comps[n-2] != mediaComponent {
		return "", 0, fmt.Errorf("%w: %q is not a media name", ErrInvalidName, name)
	}
	seq, err = strconv.ParseUint(comps[n-1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: bad sequence in %q", ErrInvalidName, name)
	}
	return comps[n-3], seq, nil
}

// ParseMediaProbeName recovers the producer uid from a probe for
// {prefix}/{nick}/{uid}/media.
func ParseMediaProbeName(name string) (string, error) {
	comps := nameComponents(name)
	n := len(comps)
	if n < 3 || comps[n-1] != mediaComponent {
		return "", fmt.Errorf("%w: %q is not a media prefix", ErrInvalidName, name)
	}
	return comps[n-2], nil
}

// ControlName is a parsed {prefix}/{nick}/{uid}/ctrl/{viewer}[/{seq}].
type ControlName struct {
	ProducerUID string
	ViewerUID   string
	Seq         uint64
	HasSeq      bool
}

func ParseControlName(name string) (ControlName, error) {
	comps := nameComponents(name)
	n := len(comps)
	if n >= 5 && comps[n-3] == controlComponent {
		if seq, err := strconv.ParseUint(comps[n-1], 10, 64); err == nil {
			return ControlName{ProducerUID: comps[n-4], ViewerUID: comps[n-2], Seq: seq, HasSeq: true}, nil
		}
	}
	if n >= 4 && comps[n-2] == controlComponent {
		return ControlName{ProducerUID: comps[n-3], ViewerUID: comps[n-1]}, nil
	}
	return ControlName{}, fmt.Errorf("%w: %q is not a control name", ErrInvalidName, name)
}

// NextSeqName replaces the trailing sequence component of name with seq+1.
func NextSeqName(name string) (string, error) {
	comps := nameComponents(name)
	seq, err := strconv.ParseUint(comps[len(comps)-1], 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: no trailing sequence in %q", ErrInvalidName, name)
	}
	comps[len(comps)-1] = strconv.FormatUint(seq+1, 10)
	return strings.Join(comps, "/"), nil
}

// SyncRecordName returns {syncPrefix}/{session}/{seq}, the name a presence
// record is published under.
func SyncRecordName(syncPrefix string, session int64, seq uint64) string {
	return JoinName(syncPrefix, strconv.FormatInt(session, 10), strconv.FormatUint(seq, 10))
}

// HasNamePrefix reports whether name equals prefix or lies below it.
func HasNamePrefix(name, prefix string) bool {
	prefix = strings.TrimRight(prefix, "/")
	if name == prefix {
		return true
	}
	return strings.HasPrefix(name, prefix+"/")
}

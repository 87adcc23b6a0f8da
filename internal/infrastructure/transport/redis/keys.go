package redis

import (
	"strconv"
	"strings"
)

const (
	keyPrefix       = "ccngate:"
	interestChannel = keyPrefix + "interests"
)

func dataKey(name string) string {
	return keyPrefix + "data:" + name
}

func indexKey(parent string) string {
	return keyPrefix + "idx:" + strings.TrimRight(parent, "/")
}

func roomChannel(chatroom string) string {
	return keyPrefix + "room:" + chatroom
}

// indexEntry splits a name ending in a sequence number into the parent
// it is indexed under and its score.
func indexEntry(name string) (parent string, score float64, ok bool) {
	name = strings.TrimRight(name, "/")
	i := strings.LastIndexByte(name, '/')
	if i <= 0 {
		return "", 0, false
	}
	seq, err := strconv.ParseUint(name[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return name[:i], float64(seq), true
}

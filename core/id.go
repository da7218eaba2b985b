package core

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"sync/atomic"
)

var (
	fallbackID atomic.Uint64
	readRandom = rand.Read
)

func newID() string {
	var buf [8]byte
	if _, err := readRandom(buf[:]); err != nil {
		return "tab-" + strconv.FormatUint(fallbackID.Add(1), 10)
	}
	return hex.EncodeToString(buf[:])
}

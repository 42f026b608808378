package duplexrpc

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"
)

var idCounter atomic.Uint32

// newWireID generates a request/callback identifier: four hex groups
// joined by dashes, unique per originator for the channel lifetime.
func newWireID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand is effectively infallible; fall back to a
		// time-based fill rather than panic in a library.
		binary.BigEndian.PutUint64(buf[:8], uint64(time.Now().UnixNano()))
		binary.BigEndian.PutUint64(buf[8:], uint64(time.Now().UnixNano()))
	}
	return fmt.Sprintf("%08x-%08x-%08x-%08x",
		binary.BigEndian.Uint32(buf[0:4]),
		binary.BigEndian.Uint32(buf[4:8]),
		binary.BigEndian.Uint32(buf[8:12]),
		binary.BigEndian.Uint32(buf[12:16])^idCounter.Add(1))
}

package store

import (
	"crypto/rand"
	"strconv"

	"flowcraft/backend/internal/clock"
)

// IDGenerator produces unique string identifiers.
type IDGenerator func() string

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Base36 returns a generator of random base-36 strings of length n.
func Base36(n int) IDGenerator {
	return func() string {
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			panic("store: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// WorkflowIDs produces ids of the form workflow_<unix ms>_<9 base-36 chars>.
func WorkflowIDs(c clock.Clock) IDGenerator {
	suffix := Base36(9)
	return func() string {
		return "workflow_" + strconv.FormatInt(clock.NowMillis(c), 10) + "_" + suffix()
	}
}

package session

import (
	"fmt"
	mrand "math/rand/v2"
)

// fallbackDeviceToken builds a UUID-v4-shaped token from the non-crypto
// generator. Only used when the secure source fails; the token only needs
// to be unique per device, not unguessable.
func fallbackDeviceToken() string {
	var b [16]byte
	for i := range b {
		b[i] = byte(mrand.IntN(256))
	}
	b[6] = (b[6] & 0x0f) | 0x40 // version 4
	b[8] = (b[8] & 0x3f) | 0x80 // variant 10
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}

package signaling

import (
	"crypto/rand"
	"math/big"
)

const (
	roomIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	roomIDLength   = 8
)

// GenerateRoomID creates a random 8 character room code (e.g. "K7Q2ZD91")
// that is not currently open in reg.
func GenerateRoomID(reg *Registry) string {
	for {
		b := make([]byte, roomIDLength)
		for i := range b {
			b[i] = roomIDAlphabet[randomIndex(len(roomIDAlphabet))]
		}
		if id := string(b); !reg.Exists(id) {
			return id
		}
	}
}

// randomIndex returns a cryptographically secure random index for a slice of given length.
func randomIndex(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		panic("failed to generate random index: " + err.Error())
	}
	return int(n.Int64())
}

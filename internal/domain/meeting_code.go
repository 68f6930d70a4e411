package domain

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const codeAlphabet = "abcdefghijklmnopqrstuvwxyz"

// NewMeetingCode returns a room id shaped like "abc-defg-hij".
func NewMeetingCode() RoomID {
	return RoomID(randomChunk(3) + "-" + randomChunk(4) + "-" + randomChunk(3))
}

func randomChunk(n int) string {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand unavailable: " + err.Error())
		}
		b.WriteByte(codeAlphabet[idx.Int64()])
	}
	return b.String()
}

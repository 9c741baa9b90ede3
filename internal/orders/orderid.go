package orders

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"strings"
	"time"
)

const (
	orderIDPrefix = "PP"
	guestMarker   = "GUES"
	base36        = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// NewOrderID builds PP + 4 chars of the user id (GUES for guests) + the
// base36 millisecond timestamp + 4 random base36 chars. Downstream systems
// parse the PP prefix; keep the layout stable.
func NewOrderID(userID string, now time.Time) string {
	var b strings.Builder
	b.WriteString(orderIDPrefix)
	b.WriteString(userPart(userID))
	b.WriteString(strings.ToUpper(strconv.FormatInt(now.UnixMilli(), 36)))
	b.WriteString(randomBase36(4))
	return b.String()
}

func userPart(userID string) string {
	clean := make([]byte, 0, 4)
	for i := 0; i < len(userID) && len(clean) < 4; i++ {
		c := userID[i]
		switch {
		case c >= 'a' && c <= 'z':
			clean = append(clean, c-'a'+'A')
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			clean = append(clean, c)
		}
	}
	if len(clean) == 0 {
		return guestMarker
	}
	for len(clean) < 4 {
		clean = append(clean, '0')
	}
	return string(clean)
}

func randomBase36(n int) string {
	out := make([]byte, n)
	max := big.NewInt(int64(len(base36)))
	for i := range out {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			out[i] = '0'
			continue
		}
		out[i] = base36[v.Int64()]
	}
	return string(out)
}

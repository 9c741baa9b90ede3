// Package token signs and verifies the checkout token that binds an
// inquiry request to its caller and timestamp.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/ariefcatur/go-prepaid-orders/internal/orders"
)

const prefix = "PREPAID:"

// Canonical renders req with input fields sorted by name, so the same
// request always produces the same bytes regardless of field order.
func Canonical(req orders.InquiryRequest) ([]byte, error) {
	c := req
	c.InputFields = append([]orders.FieldValue(nil), req.InputFields...)
	sort.SliceStable(c.InputFields, func(i, j int) bool {
		return c.InputFields[i].Name < c.InputFields[j].Name
	})
	if c.InputFields == nil {
		c.InputFields = []orders.FieldValue{}
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("canonical request: %w", err)
	}
	return b, nil
}

// Sign returns base64url(HMAC-SHA256(secret, "PREPAID:" + canonical + ":" + ts + ":" + userID)).
// Guests sign with an empty userID.
func Sign(secret []byte, req orders.InquiryRequest, timestamp int64, userID string) (string, error) {
	body, err := Canonical(req)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(prefix))
	mac.Write(body)
	mac.Write([]byte(":"))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte(":"))
	mac.Write([]byte(userID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the token and compares it in constant time.
func Verify(secret []byte, req orders.InquiryRequest, timestamp int64, userID, token string) error {
	want, err := Sign(secret, req, timestamp, userID)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(want), []byte(token)) {
		return orders.ErrInvalidToken
	}
	return nil
}

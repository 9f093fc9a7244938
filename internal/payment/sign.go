package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

const signTypeHMAC = "HMAC-SHA256"

// Sign computes the hex HMAC-SHA256 over the sorted key=value pairs of all
// non-empty fields except sign and sign_type.
func Sign(params url.Values, key string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign" || k == "sign_type" || params.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params.Get(k))
	}

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks params["sign"] in constant time.
func Verify(params url.Values, key string) bool {
	got := strings.ToLower(params.Get("sign"))
	if got == "" || key == "" {
		return false
	}
	want := Sign(params, key)
	return hmac.Equal([]byte(got), []byte(want))
}

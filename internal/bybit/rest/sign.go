package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// signPayload is the Bybit v5 signature input:
// timestamp + api key + recv window + query string.
func signPayload(secret, timestamp, apiKey, recvWindow, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + apiKey + recvWindow + query))
	return hex.EncodeToString(mac.Sum(nil))
}

// queryString renders params as k=v pairs joined by &, sorted by key.
// Bybit signs the exact byte sequence sent, so ordering must be stable.
func queryString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return strings.Join(pairs, "&")
}

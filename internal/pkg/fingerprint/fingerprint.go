package fingerprint

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Device computes a keyed BLAKE2b digest over the request origin
// (IP + user agent). The key comes from DEVICE_SECRET so fingerprints are
// not reproducible outside the service; an empty key falls back to an
// unkeyed hash, which is still stable but forgeable.
func Device(secret, ip, userAgent string) string {
	var key []byte
	if secret != "" {
		key = []byte(secret)
	}
	h, err := blake2b.New256(key)
	if err != nil {
		// Only reachable with a key >64 bytes; truncate and retry.
		h, _ = blake2b.New256(key[:64])
	}
	h.Write([]byte(ip))
	h.Write([]byte{0})
	h.Write([]byte(userAgent))
	return hex.EncodeToString(h.Sum(nil))
}

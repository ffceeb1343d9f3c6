// Package runid generates the 8-character run identifier used in
// runs/<run_id>/ paths and API responses. It is intentionally not xid:
// xid's 20-character format does not fit the short, URL-friendly id the
// boundary surface and CLI flags expect.
package runid

import (
	"crypto/rand"
)

const (
	length  = 8
	alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// New returns a fresh 8-character lowercase-alphanumeric run id.
func New() string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic("runid: crypto/rand unavailable: " + err.Error())
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out)
}

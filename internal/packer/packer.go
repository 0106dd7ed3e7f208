// Package packer frames command source as a signed binary package and
// verifies it on the way back out. A command body is executable code;
// the HMAC signature proves it originated from a trusted packager
// rather than untrusted DB contents.
package packer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"github.com/avap-run/avapd/internal/domain"
)

const (
	magic       = "AVAP"
	version     = uint16(1)
	headerLen   = 4 + 2 + 4 + 32 // magic + version + payload_len + hmac
	minPackedLen = headerLen
)

// Packer packs and unpacks bytecode packages under a single process-wide
// signing key, shared with the Definition Engine.
type Packer struct {
	key []byte
}

// New creates a Packer using key as the HMAC-SHA256 signing key.
func New(key []byte) *Packer {
	return &Packer{key: key}
}

// Pack produces the layout:
//
//	offset size field
//	0      4    magic  = "AVAP"
//	4      2    version = 1
//	6      4    payload_len (unsigned)
//	10     32   hmac_sha256(key, header||payload)
//	42     N    payload (UTF-8 script source)
func (p *Packer) Pack(text string) []byte {
	payload := []byte(text)
	header := make([]byte, 10)
	copy(header[0:4], magic)
	binary.BigEndian.PutUint16(header[4:6], version)
	binary.BigEndian.PutUint32(header[6:10], uint32(len(payload)))

	mac := hmac.New(sha256.New, p.key)
	mac.Write(header)
	mac.Write(payload)
	sum := mac.Sum(nil)

	out := make([]byte, 0, headerLen+len(payload))
	out = append(out, header...)
	out = append(out, sum...)
	out = append(out, payload...)
	return out
}

// Unpack verifies and extracts the payload, returning IntegrityError on
// any structural or signature mismatch. HMAC comparison is constant-time.
func (p *Packer) Unpack(data []byte) (string, error) {
	if len(data) < minPackedLen {
		return "", &domain.IntegrityError{Reason: "package too short"}
	}
	if string(data[0:4]) != magic {
		return "", &domain.IntegrityError{Reason: "magic mismatch"}
	}
	if binary.BigEndian.Uint16(data[4:6]) != version {
		return "", &domain.IntegrityError{Reason: "version mismatch"}
	}
	payloadLen := binary.BigEndian.Uint32(data[6:10])
	gotMac := data[10:42]
	payload := data[42:]
	if uint32(len(payload)) != payloadLen {
		return "", &domain.IntegrityError{Reason: "payload length mismatch"}
	}

	mac := hmac.New(sha256.New, p.key)
	mac.Write(data[0:10])
	mac.Write(payload)
	wantMac := mac.Sum(nil)
	if !hmac.Equal(gotMac, wantMac) {
		return "", &domain.IntegrityError{Reason: "hmac mismatch"}
	}

	return string(payload), nil
}

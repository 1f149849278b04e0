// Package record defines the journal entries written for every remote call
// and their content-addressed identities.
//
// A Call is written before the remote actor is invoked; exactly one Outcome
// follows it. Both are keyed by a SHA-256 over their canonical JSON form
// with a per-type domain prefix, so the same call replayed under the same
// sequence number yields the same id.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Version is stamped on every journal row.
const Version = "1"

const (
	domainCall    = "perpetua/call/v1"
	domainOutcome = "perpetua/outcome/v1"
)

// Call is one invocation of the remote actor.
type Call struct {
	ID        string `json:"id"`
	Gesture   string `json:"gesture"`
	Op        string `json:"op"`
	Principal string `json:"principal"`
	Shelf     string `json:"shelf,omitempty"`
	Args      Fields `json:"args"`
	Seq       int64  `json:"seq"`
}

// Outcome closes a Call. Kind is "ok" for success, otherwise the failure
// kind of the mapped error.
type Outcome struct {
	ID     string `json:"id"`
	CallID string `json:"call_id"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
	Result Fields `json:"result"`
	Seq    int64  `json:"seq"`
}

// OutcomeOK marks a successful outcome.
const OutcomeOK = "ok"

func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CallID computes the identity of a call. The principal is part of the
// identity: the same move by two principals is two different calls.
func CallID(gesture, op, principal string, args Fields, seq int64) (string, error) {
	if args == nil {
		args = Fields{}
	}
	data, err := Marshal(Fields{
		"gesture":   gesture,
		"op":        op,
		"principal": principal,
		"args":      args,
		"seq":       seq,
	})
	if err != nil {
		return "", fmt.Errorf("call id: %w", err)
	}
	return hashWithDomain(domainCall, data), nil
}

// OutcomeID computes the identity of an outcome.
func OutcomeID(callID, kind string, result Fields, seq int64) (string, error) {
	if result == nil {
		result = Fields{}
	}
	data, err := Marshal(Fields{
		"call_id": callID,
		"kind":    kind,
		"result":  result,
		"seq":     seq,
	})
	if err != nil {
		return "", fmt.Errorf("outcome id: %w", err)
	}
	return hashWithDomain(domainOutcome, data), nil
}

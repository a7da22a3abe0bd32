package memory

import (
	"encoding/json"
	"fmt"

	"lukechampine.com/blake3"
)

// Buckets lists the snapshot buckets persisted by durable backends, one row per bucket.
var Buckets = []string{"packages", "folders", "elements", "relations", "views"}

func (s *Snapshot) bucket(name string) (any, bool) {
	switch name {
	case "packages":
		return &s.Packages, true
	case "folders":
		return &s.Folders, true
	case "elements":
		return &s.Elements, true
	case "relations":
		return &s.Relations, true
	case "views":
		return &s.Views, true
	default:
		return nil, false
	}
}

// EncodeBuckets marshals every bucket of the snapshot to JSON.
func EncodeBuckets(snapshot Snapshot) (map[string][]byte, error) {
	out := make(map[string][]byte, len(Buckets))
	for _, name := range Buckets {
		target, _ := snapshot.bucket(name)
		data, err := json.Marshal(target)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

// DecodeBuckets rebuilds a snapshot from bucket payloads. Unknown buckets and
// empty payloads are ignored.
func DecodeBuckets(payloads map[string][]byte) (Snapshot, error) {
	var snapshot Snapshot
	for name, payload := range payloads {
		if len(payload) == 0 {
			continue
		}
		target, ok := snapshot.bucket(name)
		if !ok {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", name, err)
		}
	}
	return snapshot, nil
}

// Digests remembers the digest of the last payload written per bucket so
// durable backends can skip rewriting unchanged buckets.
type Digests map[string][32]byte

// Changed returns, in Buckets order, the buckets whose payload differs from
// the recorded digest.
func (d Digests) Changed(payloads map[string][]byte) []string {
	var out []string
	for _, name := range Buckets {
		sum, ok := d[name]
		if !ok || sum != blake3.Sum256(payloads[name]) {
			out = append(out, name)
		}
	}
	return out
}

// Record stores the digests of the named buckets.
func (d Digests) Record(payloads map[string][]byte, names ...string) {
	for _, name := range names {
		d[name] = blake3.Sum256(payloads[name])
	}
}

package session

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Identity is the five-tuple that names a session.
type Identity struct {
	TenantID       string
	Channel        string
	InstallationID string
	PeerID         string
	AgentID        string
}

// ComputeRoutingKey derives the deterministic session identity for a
// five-tuple. Fields are length-prefixed before hashing so no two distinct
// tuples can collide by concatenation.
func ComputeRoutingKey(id Identity) string {
	return hashFields(id.TenantID, id.Channel, id.InstallationID, id.PeerID, id.AgentID)
}

// LegacyRoutingKey is the coarse pre-installation identity
// (tenant, channel, agent). Sessions created before installation and peer
// dimensions existed were keyed this way; see Store.ResolveSession for the
// one-time promotion rule.
func LegacyRoutingKey(tenantID, channel, agentID string) string {
	return hashFields(tenantID, channel, agentID)
}

func hashFields(fields ...string) string {
	h := sha256.New()
	var size [8]byte
	for _, field := range fields {
		binary.BigEndian.PutUint64(size[:], uint64(len(field)))
		h.Write(size[:])
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}

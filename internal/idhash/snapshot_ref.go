package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeSnapshotRef computes the reference stored in agent logs for the
// snapshot of a cycle.
// Formula: SHA256("snapshot"|cycle_time), truncated to 16 hex characters.
func ComputeSnapshotRef(cycleTime int64) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("snapshot|%d", cycleTime)))
	return hex.EncodeToString(hash[:8])
}

// ComputeTradeKey computes an idempotency key for an execution request.
// Formula: SHA256(agent_id|token|type|cycle_time)
// Retried submissions of the same decision carry the same key.
func ComputeTradeKey(agentID, token, tradeType string, cycleTime int64) string {
	data := fmt.Sprintf("%s|%s|%s|%d", agentID, token, tradeType, cycleTime)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// Package auth wraps the pure primitives in internal/signing with the
// three documented signing-message schemes and dispatches HMAC vs. EVM
// verification per agent, so callers never build a signing message by
// hand.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"private-db-agent/internal/canonical"
)

// Signing contexts, prefixed verbatim onto the canonical JSON envelope.
const (
	ContextUserAuth        = "PRIVATE_DB_AGENT_AUTH_V1"
	ContextPolicyMutation  = "PRIVATE_DB_AGENT_POLICY_MUTATION_V1"
	ContextA2A             = "PRIVATE_DB_AGENT_A2A_V1"
)

// UserAuthEnvelope is the canonical object signed for /v1/query requests.
type UserAuthEnvelope struct {
	RequestID     string      `json:"requestId"`
	TenantID      string      `json:"tenantId"`
	Requester     string      `json:"requester"`
	Capability    string      `json:"capability"`
	QueryTemplate string      `json:"queryTemplate"`
	QueryParams   interface{} `json:"queryParams"`
	Nonce         string      `json:"nonce"`
	SignedAt      string      `json:"signedAt"`
}

// PolicyMutationEnvelope is the canonical object signed for wallet-authored
// control-plane endpoints.
type PolicyMutationEnvelope struct {
	RequestID   string      `json:"requestId"`
	TenantID    string      `json:"tenantId"`
	ActorWallet string      `json:"actorWallet"`
	Action      string      `json:"action"`
	Payload     interface{} `json:"payload"`
	Nonce       string      `json:"nonce"`
	SignedAt    string      `json:"signedAt"`
}

// A2AEnvelope is the canonical object signed for /v1/a2a/* requests.
type A2AEnvelope struct {
	AgentID         string  `json:"agentId"`
	Method          string  `json:"method"`
	Path            string  `json:"path"`
	Timestamp       string  `json:"timestamp"`
	Nonce           string  `json:"nonce"`
	CorrelationID   *string `json:"correlationId"`
	IdempotencyKey  *string `json:"idempotencyKey"`
	PayloadHash     string  `json:"payloadHash"`
}

// BuildUserAuthMessage renders the PRIVATE_DB_AGENT_AUTH_V1 signing message.
func BuildUserAuthMessage(env UserAuthEnvelope) (string, error) {
	return buildMessage(ContextUserAuth, env)
}

// BuildPolicyMutationMessage renders the PRIVATE_DB_AGENT_POLICY_MUTATION_V1
// signing message.
func BuildPolicyMutationMessage(env PolicyMutationEnvelope) (string, error) {
	return buildMessage(ContextPolicyMutation, env)
}

// BuildA2AMessage renders the PRIVATE_DB_AGENT_A2A_V1 signing message.
func BuildA2AMessage(env A2AEnvelope) (string, error) {
	return buildMessage(ContextA2A, env)
}

func buildMessage(context string, env interface{}) (string, error) {
	canon, err := canonical.CanonicalizeString(env)
	if err != nil {
		return "", fmt.Errorf("auth: canonicalize envelope: %w", err)
	}
	return context + "\n" + canon, nil
}

// PayloadHash implements `payloadHash = hex(sha256(canonicalize(body ?? {})))`
// from spec.md §4.F.
func PayloadHash(body interface{}) (string, error) {
	if body == nil {
		body = map[string]interface{}{}
	}
	canon, err := canonical.Canonicalize(body)
	if err != nil {
		return "", fmt.Errorf("auth: canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Package receipt builds the tamper-evident decision receipt emitted with
// every request outcome: a triple SHA-256 hash over the request, decision,
// and verification facets, collapsed into a short receiptId.
package receipt

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"private-db-agent/internal/canonical"
)

// RuntimeClaims is the subset of the attestation snapshot surfaced in every
// receipt's verification facet.
type RuntimeClaims struct {
	TrustModel              string `json:"trustModel"`
	AppID                   string `json:"appId"`
	ImageDigest             string `json:"imageDigest"`
	AttestationReportHash   string `json:"attestationReportHash"`
	OnchainDeploymentTxHash string `json:"onchainDeploymentTxHash"`
	ClaimsHash              string `json:"claimsHash"`
	VerificationStatus      string `json:"verificationStatus"`
	Verified                bool   `json:"verified"`
}

// RequestFacet captures the signed request's identifying fields.
type RequestFacet struct {
	RequestID     string      `json:"requestId"`
	TenantID      string      `json:"tenantId"`
	Requester     string      `json:"requester"`
	Capability    string      `json:"capability"`
	QueryTemplate string      `json:"queryTemplate"`
	QueryParams   interface{} `json:"queryParams"`
	AuthNonce     string      `json:"authNonce"`
	AuthSignedAt  string      `json:"authSignedAt"`
}

// DecisionFacet captures the pipeline's outcome for the request.
type DecisionFacet struct {
	Outcome string `json:"outcome"`
	Stage   string `json:"stage"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// VerificationFacet captures the service/runtime attestation context.
type VerificationFacet struct {
	Service         string        `json:"service"`
	Runtime         RuntimeClaims `json:"runtime"`
	DatabaseDialect string        `json:"databaseDialect"`
}

// Receipt is the full tamper-evident envelope returned alongside a
// request's response.
type Receipt struct {
	ReceiptID         string             `json:"receiptId"`
	RequestFacet      RequestFacet       `json:"requestFacet"`
	DecisionFacet     DecisionFacet      `json:"decisionFacet"`
	VerificationFacet VerificationFacet  `json:"verificationFacet"`
	RequestHash       string             `json:"requestHash"`
	DecisionHash      string             `json:"decisionHash"`
	VerificationHash  string             `json:"verificationHash"`
}

// Service builds receipts, honoring the RECEIPTS_ENABLED configuration
// toggle.
type Service struct {
	enabled bool
}

// NewService builds a receipt Service. When enabled is false, Build always
// returns nil (receipts omitted per spec.md §3).
func NewService(enabled bool) *Service {
	return &Service{enabled: enabled}
}

// Build computes the three facet hashes and the derived receiptId,
// returning nil when receipts are disabled.
func (s *Service) Build(request RequestFacet, decision DecisionFacet, verification VerificationFacet) (*Receipt, error) {
	if !s.enabled {
		return nil, nil
	}

	requestHash, err := canonical.Hash(request)
	if err != nil {
		return nil, fmt.Errorf("receipt: hash request facet: %w", err)
	}
	decisionHash, err := canonical.Hash(decision)
	if err != nil {
		return nil, fmt.Errorf("receipt: hash decision facet: %w", err)
	}
	verificationHash, err := canonical.Hash(verification)
	if err != nil {
		return nil, fmt.Errorf("receipt: hash verification facet: %w", err)
	}

	receiptID := deriveReceiptID(requestHash, decisionHash, verificationHash)

	return &Receipt{
		ReceiptID:         receiptID,
		RequestFacet:      request,
		DecisionFacet:     decision,
		VerificationFacet: verification,
		RequestHash:       requestHash,
		DecisionHash:      decisionHash,
		VerificationHash:  verificationHash,
	}, nil
}

// deriveReceiptID implements spec.md §4.I:
// "rcpt_" + first 16 hex chars of sha256(requestHash||decisionHash||verificationHash).
func deriveReceiptID(requestHash, decisionHash, verificationHash string) string {
	concatenated := requestHash + decisionHash + verificationHash
	sum := sha256.Sum256([]byte(concatenated))
	full := hex.EncodeToString(sum[:])
	return "rcpt_" + full[:16]
}

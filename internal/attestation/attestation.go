// Package attestation snapshots the confidential-runtime claims this
// process was launched with. The core never mints attestations itself; it
// only reads and hashes whatever the runtime exposes through environment
// variables, per spec.md §1.
package attestation

import (
	"os"

	"private-db-agent/internal/canonical"
)

// Claims is the runtime attestation snapshot embedded in every receipt's
// verification facet and served at GET /v1/runtime/attestation.
type Claims struct {
	TrustModel              string `json:"trustModel"`
	AppID                   string `json:"appId"`
	ImageDigest             string `json:"imageDigest"`
	AttestationReportHash   string `json:"attestationReportHash"`
	OnchainDeploymentTxHash string `json:"onchainDeploymentTxHash"`
	ClaimsHash              string `json:"claimsHash"`
	VerificationStatus      string `json:"verificationStatus"`
	Verified                bool   `json:"verified"`
}

// Config controls whether attestation claims are surfaced at all
// (PROOF_ENABLED) and which trust model is reported. HashAlgorithm holds the
// PROOF_HASH_ALGORITHM label; Snapshot does not include it in Claims.
type Config struct {
	Enabled      bool
	HashAlgorithm string
	TrustModel   string
}

// LoadConfigFromEnv reads PROOF_ENABLED / PROOF_HASH_ALGORITHM /
// PROOF_TRUST_MODEL, matching the env-var plumbing style of the teacher's
// services/escrow-gateway/config.go:LoadConfigFromEnv.
func LoadConfigFromEnv() Config {
	return Config{
		Enabled:       os.Getenv("PROOF_ENABLED") == "true",
		HashAlgorithm: envOrDefault("PROOF_HASH_ALGORITHM", "sha256"),
		TrustModel:    envOrDefault("PROOF_TRUST_MODEL", "none"),
	}
}

// Snapshot builds the current Claims value from the runtime's environment,
// per the EIGEN_* variables spec.md §6 documents.
func Snapshot(cfg Config) (Claims, error) {
	if !cfg.Enabled {
		return Claims{
			TrustModel:         cfg.TrustModel,
			VerificationStatus: "DISABLED",
			Verified:           false,
		}, nil
	}

	claims := Claims{
		TrustModel:              cfg.TrustModel,
		AppID:                   os.Getenv("EIGEN_APP_ID"),
		ImageDigest:             os.Getenv("EIGEN_IMAGE_DIGEST"),
		AttestationReportHash:   os.Getenv("EIGEN_ATTESTATION_REPORT_HASH"),
		OnchainDeploymentTxHash: os.Getenv("EIGEN_ONCHAIN_DEPLOYMENT_TX_HASH"),
	}

	hash, err := canonical.Hash(struct {
		AppID                   string `json:"appId"`
		ImageDigest             string `json:"imageDigest"`
		AttestationReportHash   string `json:"attestationReportHash"`
		OnchainDeploymentTxHash string `json:"onchainDeploymentTxHash"`
	}{claims.AppID, claims.ImageDigest, claims.AttestationReportHash, claims.OnchainDeploymentTxHash})
	if err != nil {
		return Claims{}, err
	}
	claims.ClaimsHash = hash

	if claims.AppID != "" && claims.ImageDigest != "" && claims.AttestationReportHash != "" {
		claims.VerificationStatus = "VERIFIED"
		claims.Verified = true
	} else {
		claims.VerificationStatus = "INCOMPLETE"
		claims.Verified = false
	}

	return claims, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

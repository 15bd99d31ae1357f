package attestation

import "testing"

func TestSnapshotDisabled(t *testing.T) {
	claims, err := Snapshot(Config{Enabled: false, TrustModel: "none"})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if claims.Verified {
		t.Fatal("expected unverified when proof disabled")
	}
	if claims.VerificationStatus != "DISABLED" {
		t.Fatalf("expected DISABLED status, got %s", claims.VerificationStatus)
	}
}

func TestSnapshotIncompleteWhenEnvMissing(t *testing.T) {
	t.Setenv("EIGEN_APP_ID", "")
	t.Setenv("EIGEN_IMAGE_DIGEST", "")
	t.Setenv("EIGEN_ATTESTATION_REPORT_HASH", "")
	claims, err := Snapshot(Config{Enabled: true, TrustModel: "tee"})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if claims.Verified {
		t.Fatal("expected unverified when claim fields are empty")
	}
	if claims.VerificationStatus != "INCOMPLETE" {
		t.Fatalf("expected INCOMPLETE status, got %s", claims.VerificationStatus)
	}
}

func TestSnapshotVerifiedWhenEnvPresent(t *testing.T) {
	t.Setenv("EIGEN_APP_ID", "app-1")
	t.Setenv("EIGEN_IMAGE_DIGEST", "sha256:deadbeef")
	t.Setenv("EIGEN_ATTESTATION_REPORT_HASH", "abc123")
	claims, err := Snapshot(Config{Enabled: true, TrustModel: "tee"})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !claims.Verified || claims.VerificationStatus != "VERIFIED" {
		t.Fatalf("expected verified claims, got %+v", claims)
	}
	if claims.ClaimsHash == "" {
		t.Fatal("expected non-empty claims hash")
	}
}

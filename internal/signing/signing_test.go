package signing

import (
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestVerifyHMACRoundTrip(t *testing.T) {
	secret := "s3cr3t"
	message := "hello world"
	sig := ComputeHMAC(secret, message)
	if err := VerifyHMAC(secret, message, sig); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyHMACRejectsTamperedMessage(t *testing.T) {
	secret := "s3cr3t"
	sig := ComputeHMAC(secret, "original")
	if err := VerifyHMAC(secret, "tampered", sig); err != ErrSignatureMismatch {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
}

func TestVerifyHMACRejectsBadEncoding(t *testing.T) {
	if err := VerifyHMAC("secret", "msg", "not-hex!"); err == nil {
		t.Fatal("expected decoding error")
	}
}

func signPersonal(t *testing.T, priv []byte, message string) string {
	t.Helper()
	key, err := ethcrypto.ToECDSA(priv)
	if err != nil {
		t.Fatalf("to ecdsa: %v", err)
	}
	digest := accounts.TextHash(ethcrypto.Keccak256([]byte(message)))
	sig, err := ethcrypto.Sign(digest, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sig[64] += 27
	return "0x" + hexEncode(sig)
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0f]
	}
	return string(out)
}

func testPrivateKey() []byte {
	return []byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
		0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18,
		0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f, 0x20,
	}
}

func TestVerifyEVMRoundTrip(t *testing.T) {
	priv := testPrivateKey()
	key, err := ethcrypto.ToECDSA(priv)
	if err != nil {
		t.Fatalf("to ecdsa: %v", err)
	}
	addr := ethcrypto.PubkeyToAddress(key.PublicKey)

	message := `{"requestId":"req_1"}`
	sig := signPersonal(t, priv, message)

	if err := VerifyEVM(message, sig, addr.Hex()); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyEVMRejectsWrongAddress(t *testing.T) {
	priv := testPrivateKey()
	message := `{"requestId":"req_1"}`
	sig := signPersonal(t, priv, message)

	if err := VerifyEVM(message, sig, "0x0000000000000000000000000000000000000000"); err != ErrAddressMismatch {
		t.Fatalf("expected address mismatch, got %v", err)
	}
}

func TestVerifyEVMRejectsBadSignatureLength(t *testing.T) {
	if _, err := RecoverEVM("msg", "0x1234"); err == nil {
		t.Fatal("expected signature length error")
	}
}

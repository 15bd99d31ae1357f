package signing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ErrSignatureLength is returned when a decoded EVM signature is not 65
// bytes (r, s, v).
var ErrSignatureLength = errors.New("signing: signature must be 65 bytes")

// ErrAddressMismatch is returned when the recovered signer does not match
// the address the caller asserted.
var ErrAddressMismatch = errors.New("signing: recovered address does not match")

// RecoverEVM recovers the signer address from an EIP-191 personal_sign
// signature over message. sigHex may carry a leading "0x".
func RecoverEVM(message string, sigHex string) (common.Address, error) {
	sigBytes, err := decodeSignature(sigHex)
	if err != nil {
		return common.Address{}, err
	}

	digest := accounts.TextHash(ethcrypto.Keccak256([]byte(message)))
	pubKey, err := ethcrypto.SigToPub(digest, sigBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("signing: recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pubKey), nil
}

// VerifyEVM recovers the signer of message and asserts it equals
// expectedAddress (case-insensitively).
func VerifyEVM(message string, sigHex string, expectedAddress string) error {
	recovered, err := RecoverEVM(message, sigHex)
	if err != nil {
		return err
	}
	if !strings.EqualFold(recovered.Hex(), expectedAddress) {
		return ErrAddressMismatch
	}
	return nil
}

func decodeSignature(sigHex string) ([]byte, error) {
	cleaned := strings.TrimPrefix(strings.TrimPrefix(sigHex, "0x"), "0X")
	sigBytes, err := hexutil.Decode("0x" + cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignatureEncoding, err)
	}
	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("%w: got %d", ErrSignatureLength, len(sigBytes))
	}
	// go-ethereum's SigToPub expects v in {0,1}; wallets commonly emit
	// Ethereum's {27,28} convention.
	if sigBytes[64] >= 27 {
		sigBytes[64] -= 27
	}
	return sigBytes, nil
}

// Package signing implements the agent commitment scheme: secp256k1
// recoverable signatures over canonical content hashes, with Ethereum-style
// addresses as agent identity.
package signing

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	secp_ecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"

	"github.com/renlabs-dev/prediction-swarm/pkg/canonical"
)

// Keypair holds an agent's secp256k1 signing key and derived address.
type Keypair struct {
	priv    *btcec.PrivateKey
	address string
}

// NewKeypairFromHex loads a keypair from a hex-encoded 32-byte private key.
func NewKeypairFromHex(privHex string) (*Keypair, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(privHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return &Keypair{
		priv:    priv,
		address: PubKeyToAddress(priv.PubKey()),
	}, nil
}

// GenerateKeypair creates a fresh random keypair.
func GenerateKeypair() (*Keypair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}
	return &Keypair{
		priv:    priv,
		address: PubKeyToAddress(priv.PubKey()),
	}, nil
}

// Address returns the checksummed address derived from the public key.
func (kp *Keypair) Address() string {
	return kp.address
}

// SignHash signs a 0x-prefixed hex content hash and returns the signature as
// 0x-prefixed hex in R|S|V layout (V is 0 or 1).
func (kp *Keypair) SignHash(contentHash string) (string, error) {
	hash, err := decodeHash(contentHash)
	if err != nil {
		return "", err
	}

	// SignCompact yields [V(27+), R, S]; the wire format is R|S|V.
	compact := secp_ecdsa.SignCompact(kp.priv, hash, false)
	sig := make([]byte, 65)
	copy(sig[0:32], compact[1:33])
	copy(sig[32:64], compact[33:65])
	sig[64] = compact[0] - 27

	return "0x" + hex.EncodeToString(sig), nil
}

// SignContent canonicalizes v, hashes it, and signs the hash. Returns the
// content hash and the signature.
func (kp *Keypair) SignContent(v interface{}) (contentHash, signature string, err error) {
	contentHash, err = canonical.HashContent(v)
	if err != nil {
		return "", "", err
	}
	signature, err = kp.SignHash(contentHash)
	if err != nil {
		return "", "", err
	}
	return contentHash, signature, nil
}

// VerifyHashSignature checks that signature over contentHash recovers to the
// given address. Address comparison is case-insensitive.
func VerifyHashSignature(address, contentHash, signature string) (bool, error) {
	hash, err := decodeHash(contentHash)
	if err != nil {
		return false, err
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(sig) != 65 {
		return false, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return false, fmt.Errorf("invalid recovery id: %d", v)
	}

	// btcec compact layout is [V(27+), R, S]
	compact := make([]byte, 65)
	compact[0] = 27 + v
	copy(compact[1:33], sig[0:32])
	copy(compact[33:65], sig[32:64])

	pubKey, _, err := secp_ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return false, fmt.Errorf("failed to recover public key: %w", err)
	}

	return strings.EqualFold(PubKeyToAddress(pubKey), address), nil
}

// VerifyContent canonicalizes v, hashes it, and verifies the signature
// against the address.
func VerifyContent(address string, v interface{}, signature string) (bool, error) {
	contentHash, err := canonical.HashContent(v)
	if err != nil {
		return false, err
	}
	return VerifyHashSignature(address, contentHash, signature)
}

// PubKeyToAddress derives a checksummed Ethereum-style address from a
// secp256k1 public key.
func PubKeyToAddress(pubKey *btcec.PublicKey) string {
	uncompressed := pubKey.SerializeUncompressed()
	// keccak over the pubkey without the 0x04 prefix byte; address is the
	// last 20 bytes of the digest
	hash := keccak256(uncompressed[1:])
	return toChecksumAddress(hex.EncodeToString(hash[12:]))
}

// NormalizeAddress converts an address to EIP-55 checksum format.
func NormalizeAddress(address string) (string, error) {
	addr := strings.TrimPrefix(strings.ToLower(address), "0x")
	if len(addr) != 40 {
		return "", fmt.Errorf("address must be 40 hex characters")
	}
	if _, err := hex.DecodeString(addr); err != nil {
		return "", fmt.Errorf("invalid hex in address: %w", err)
	}
	return toChecksumAddress(addr), nil
}

func decodeHash(contentHash string) ([]byte, error) {
	hash, err := hex.DecodeString(strings.TrimPrefix(contentHash, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid content hash hex: %w", err)
	}
	if len(hash) != 32 {
		return nil, fmt.Errorf("content hash must be 32 bytes, got %d", len(hash))
	}
	return hash, nil
}

// toChecksumAddress applies EIP-55 checksum casing.
func toChecksumAddress(addr string) string {
	addr = strings.ToLower(addr)
	hash := keccak256([]byte(addr))

	result := make([]byte, 42)
	result[0] = '0'
	result[1] = 'x'

	for i := 0; i < 40; i++ {
		c := addr[i]
		hashNibble := hash[i/2]
		if i%2 == 0 {
			hashNibble >>= 4
		}
		hashNibble &= 0x0f

		if hashNibble >= 8 && c >= 'a' && c <= 'f' {
			result[i+2] = c - 32
		} else {
			result[i+2] = c
		}
	}
	return string(result)
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// Package ticketing implements the Ticketing Core: canonical-
// JSON ticket signing, Merkle batching, and blockchain anchoring. The
// HTTP-client-behind-an-interface shape mirrors internal/payment's
// GatewayClient, and the SQL repository style matches the rest of the
// platform.
package ticketing

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/routecore/platform/internal/domain"
)

// Signer holds the service's ECDSA P-256 key pair used to sign and verify
// ticket bodies. ECDSA is used instead of a chain-specific signing SDK
// because ticket signatures are a service-level authenticity guarantee,
// independent of whichever chain a batch is later anchored to.
type Signer struct {
	private *ecdsa.PrivateKey
	public  *ecdsa.PublicKey
}

// GenerateSigner creates a fresh P-256 key pair. In production the private
// key is loaded from a secret store rather than generated per process.
func GenerateSigner() (*Signer, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return &Signer{private: key, public: &key.PublicKey}, nil
}

// CanonicalJSON marshals a TicketBody with its keys in lexicographic order
// and no insignificant whitespace. Every TicketBody field is a string, so
// the struct is re-encoded as a map[string]string, whose keys encoding/json
// always writes sorted; two callers building the same body therefore
// produce byte-identical output — the property canonicalization needs for
// hashing and signing.
func CanonicalJSON(body domain.TicketBody) ([]byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize ticket body: %w", err)
	}
	var fields map[string]string
	if err := json.Unmarshal(encoded, &fields); err != nil {
		return nil, fmt.Errorf("failed to canonicalize ticket body: %w", err)
	}
	sorted, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize ticket body: %w", err)
	}
	return sorted, nil
}

// Hash returns the hex-encoded SHA-256 digest of a canonical body.
func Hash(canonicalBody []byte) string {
	sum := sha256.Sum256(canonicalBody)
	return hex.EncodeToString(sum[:])
}

// Sign produces a hex-encoded ECDSA signature over the hash bytes. ECDSA
// signatures are non-deterministic by design; verification must use
// Verify, never a byte-for-byte comparison of signatures.
func (s *Signer) Sign(hashHex string) (string, error) {
	hashBytes, err := hex.DecodeString(hashHex)
	if err != nil {
		return "", fmt.Errorf("failed to decode hash: %w", err)
	}
	r, sVal, err := ecdsa.Sign(rand.Reader, s.private, hashBytes)
	if err != nil {
		return "", fmt.Errorf("failed to sign ticket hash: %w", err)
	}

	sig := append(padTo32(r), padTo32(sVal)...)
	return hex.EncodeToString(sig), nil
}

// p256FieldBytes is the byte width of a P-256 field element; r and s are
// each padded to this width so the concatenated signature can be split
// back into its two halves deterministically.
const p256FieldBytes = 32

func padTo32(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= p256FieldBytes {
		return b
	}
	padded := make([]byte, p256FieldBytes)
	copy(padded[p256FieldBytes-len(b):], b)
	return padded
}

// Verify checks a hex-encoded signature against a hex-encoded hash using
// the service public key.
func (s *Signer) Verify(hashHex, signatureHex string) bool {
	hashBytes, err := hex.DecodeString(hashHex)
	if err != nil {
		return false
	}
	sigBytes, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	if len(sigBytes) != 2*p256FieldBytes {
		return false
	}
	r := new(big.Int).SetBytes(sigBytes[:p256FieldBytes])
	sVal := new(big.Int).SetBytes(sigBytes[p256FieldBytes:])
	return ecdsa.Verify(s.public, hashBytes, r, sVal)
}

// PublicKey exposes the verification key for external verifiers.
func (s *Signer) PublicKey() *ecdsa.PublicKey {
	return s.public
}

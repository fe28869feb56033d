package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// DigestLength is the size of the message digests accepted by Sign.
const DigestLength = 32

type PrivateKey struct {
	*ecdsa.PrivateKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return ethcrypto.FromECDSA(k.PrivateKey)
}

// Address returns the x-only public key of k.
func (k *PrivateKey) Address() Address {
	return AddressFromPublicKey(&k.PrivateKey.PublicKey)
}

// Sign produces a 65-byte recoverable signature over a 32-byte digest.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	if k == nil || k.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	if len(digest) != DigestLength {
		return nil, fmt.Errorf("crypto: digest must be %d bytes", DigestLength)
	}
	return ethcrypto.Sign(digest, k.PrivateKey)
}

func AddressFromPublicKey(pub *ecdsa.PublicKey) Address {
	var addr Address
	if pub == nil || pub.X == nil {
		return addr
	}
	pub.X.FillBytes(addr[:])
	return addr
}

// Digest hashes an arbitrary payload into the 32-byte form signed by clients.
func Digest(payload []byte) []byte {
	return ethcrypto.Keccak256(payload)
}

// RecoverAddress returns the signer address of a signature produced by Sign.
func RecoverAddress(digest, sig []byte) (Address, error) {
	if len(digest) != DigestLength {
		return Address{}, fmt.Errorf("crypto: digest must be %d bytes", DigestLength)
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return Address{}, fmt.Errorf("crypto: recover signer: %w", err)
	}
	return AddressFromPublicKey(pub), nil
}

// VerifySignature reports whether sig over digest was produced by addr.
func VerifySignature(addr Address, digest, sig []byte) bool {
	recovered, err := RecoverAddress(digest, sig)
	if err != nil {
		return false
	}
	return recovered == addr
}

package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"escrowmarket/crypto"
)

const (
	// signatureSkew bounds how far a signed payload's timestamp may drift
	// from the server clock.
	signatureSkew = 5 * time.Minute
	// digestTTL is how long accepted digests are remembered for replay
	// rejection. It must exceed twice signatureSkew.
	digestTTL = 15 * time.Minute
)

// SignedParams is the parameter object of every mutating method. Signature is
// a 65-byte secp256k1 signature over keccak256 of the exact Payload bytes.
type SignedParams struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// Methods that take a SignedParams object.
const (
	MethodMarketList      = "market_list"
	MethodMarketBuy       = "market_buy"
	MethodTokenCreateMint = "token_createMint"
	MethodTokenMintTo     = "token_mintTo"
)

// stamped is embedded by every signed payload. Method binds the signature to
// one RPC method.
type stamped struct {
	Method    string `json:"method"`
	Timestamp int64  `json:"timestamp"`
}

func stamp(method string, now time.Time) stamped {
	return stamped{Method: method, Timestamp: now.Unix()}
}

// Sign encodes payload and signs it with key.
func Sign(key *crypto.PrivateKey, payload interface{}) (SignedParams, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return SignedParams{}, fmt.Errorf("encode payload: %w", err)
	}
	sig, err := key.Sign(crypto.Digest(raw))
	if err != nil {
		return SignedParams{}, err
	}
	return SignedParams{Payload: raw, Signature: "0x" + hex.EncodeToString(sig)}, nil
}

// verify recovers the signer of p, checks the payload was signed for method
// and decodes it into out. It returns the payload digest for replay tracking.
func (p SignedParams) verify(method string, out interface{}, now time.Time) (crypto.Address, string, *RPCError) {
	if len(p.Payload) == 0 {
		return crypto.Address{}, "", invalidParams("payload required", nil)
	}
	sigHex := strings.TrimPrefix(strings.TrimSpace(p.Signature), "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != 65 {
		return crypto.Address{}, "", newError(http.StatusUnauthorized, codeUnauthorized, "invalid signature encoding", nil)
	}
	digest := crypto.Digest(p.Payload)
	signer, err := crypto.RecoverAddress(digest, sig)
	if err != nil {
		return crypto.Address{}, "", newError(http.StatusUnauthorized, codeUnauthorized, "signature recovery failed", err.Error())
	}
	var header stamped
	if err := json.Unmarshal(p.Payload, &header); err != nil {
		return crypto.Address{}, "", invalidParams("invalid payload", err)
	}
	if header.Method != method {
		return crypto.Address{}, "", invalidParams("payload signed for another method", fmt.Errorf("signed for %q", header.Method))
	}
	issued := time.Unix(header.Timestamp, 0)
	if issued.Before(now.Add(-signatureSkew)) || issued.After(now.Add(signatureSkew)) {
		return crypto.Address{}, "", invalidParams("payload timestamp outside allowed window", nil)
	}
	if err := json.Unmarshal(p.Payload, out); err != nil {
		return crypto.Address{}, "", invalidParams("invalid payload", err)
	}
	return signer, hex.EncodeToString(digest), nil
}

package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/polybet/internal/domain"
)

const (
	attestationName    = "Polybet Oracle"
	attestationVersion = "1"
)

var (
	// EIP712Domain(string name,string version,uint256 chainId)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	// Resolution(string marketId,uint8 outcome)
	resolutionTypeHash = ethcrypto.Keccak256(
		[]byte("Resolution(string marketId,uint8 outcome)"),
	)
)

// Attester signs market resolutions with an oracle key.
type Attester struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewAttester creates an Attester from a hex-encoded secp256k1 private key.
func NewAttester(privateKeyHex string, chainID int64) (*Attester, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/attestation: invalid private key: %w", err)
	}
	return &Attester{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domainSeparator(chainID),
	}, nil
}

// Identity is the checksummed oracle address markets must name.
func (a *Attester) Identity() domain.Identity {
	return domain.Identity(a.address.Hex())
}

// Sign returns a 65-byte r||s||v signature (v in {27,28}) over the
// resolution of marketID to outcome.
func (a *Attester) Sign(marketID string, outcome uint8) ([]byte, error) {
	digest := resolutionDigest(a.domainSep, marketID, outcome)
	sig, err := ethcrypto.Sign(digest, a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto/attestation: signing: %w", domain.ErrSigningFailed)
	}
	sig[64] += 27
	return sig, nil
}

// Verifier recovers attestation signers.
type Verifier struct {
	domainSep []byte
}

// NewVerifier returns a Verifier bound to chainID.
func NewVerifier(chainID int64) *Verifier {
	return &Verifier{domainSep: domainSeparator(chainID)}
}

// Recover returns the address that signed the resolution.
func (v *Verifier) Recover(marketID string, outcome uint8, signature []byte) (domain.Identity, error) {
	if len(signature) != 65 {
		return "", fmt.Errorf("crypto/attestation: signature length %d: %w", len(signature), domain.ErrInvalidSignature)
	}
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return "", fmt.Errorf("crypto/attestation: recovery id %d: %w", sig[64], domain.ErrInvalidSignature)
	}
	pub, err := ethcrypto.SigToPub(resolutionDigest(v.domainSep, marketID, outcome), sig)
	if err != nil {
		return "", fmt.Errorf("crypto/attestation: recover: %w", domain.ErrInvalidSignature)
	}
	return domain.Identity(ethcrypto.PubkeyToAddress(*pub).Hex()), nil
}

// Normalize checks that id is an address and returns its checksummed form.
func (v *Verifier) Normalize(id domain.Identity) (domain.Identity, error) {
	if !common.IsHexAddress(string(id)) {
		return "", fmt.Errorf("crypto/attestation: %q is not an address: %w", id, domain.ErrInvalidMarket)
	}
	return domain.Identity(common.HexToAddress(string(id)).Hex()), nil
}

// EncodeSignature renders a signature as 0x-prefixed hex.
func EncodeSignature(sig []byte) string { return hexutil.Encode(sig) }

// DecodeSignature parses a 0x-prefixed hex signature.
func DecodeSignature(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	sig, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("crypto/attestation: decode signature: %w", domain.ErrInvalidSignature)
	}
	return sig, nil
}

func domainSeparator(chainID int64) []byte {
	return ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(attestationName)),
		ethcrypto.Keccak256([]byte(attestationVersion)),
		common.LeftPadBytes(big.NewInt(chainID).Bytes(), 32),
	)
}

// resolutionDigest is keccak256("\x19\x01" || domainSeparator || structHash).
func resolutionDigest(domainSep []byte, marketID string, outcome uint8) []byte {
	structHash := ethcrypto.Keccak256(
		resolutionTypeHash,
		ethcrypto.Keccak256([]byte(marketID)),
		common.LeftPadBytes([]byte{outcome}, 32),
	)
	return ethcrypto.Keccak256([]byte{0x19, 0x01}, domainSep, structHash)
}

package crypto

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polybet/internal/domain"
)

func newTestAttester(t *testing.T, chainID int64) (*Attester, string) {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	keyHex := hex.EncodeToString(ethcrypto.FromECDSA(pk))
	a, err := NewAttester("0x"+keyHex, chainID)
	require.NoError(t, err)
	return a, keyHex
}

func TestAttestationRecoversSigner(t *testing.T) {
	a, _ := newTestAttester(t, 137)
	v := NewVerifier(137)

	sig, err := a.Sign("mkt-1", 2)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	got, err := v.Recover("mkt-1", 2, sig)
	require.NoError(t, err)
	assert.Equal(t, a.Identity(), got)
}

func TestAttestationBoundToMessage(t *testing.T) {
	a, _ := newTestAttester(t, 137)
	sig, err := a.Sign("mkt-1", 2)
	require.NoError(t, err)

	otherOutcome, err := NewVerifier(137).Recover("mkt-1", 1, sig)
	require.NoError(t, err)
	assert.NotEqual(t, a.Identity(), otherOutcome)

	otherMarket, err := NewVerifier(137).Recover("mkt-2", 2, sig)
	require.NoError(t, err)
	assert.NotEqual(t, a.Identity(), otherMarket)

	otherChain, err := NewVerifier(1).Recover("mkt-1", 2, sig)
	require.NoError(t, err)
	assert.NotEqual(t, a.Identity(), otherChain)
}

func TestRecoverRejectsMalformed(t *testing.T) {
	v := NewVerifier(137)
	_, err := v.Recover("mkt-1", 0, []byte{1, 2, 3})
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)

	bad := make([]byte, 65)
	bad[64] = 9
	_, err = v.Recover("mkt-1", 0, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestNormalize(t *testing.T) {
	v := NewVerifier(137)
	a, _ := newTestAttester(t, 137)

	lower := domain.Identity(
		"0x" + hex.EncodeToString(ethcrypto.PubkeyToAddress(a.privateKey.PublicKey).Bytes()),
	)
	got, err := v.Normalize(lower)
	require.NoError(t, err)
	assert.Equal(t, a.Identity(), got)

	_, err = v.Normalize("alice")
	assert.ErrorIs(t, err, domain.ErrInvalidMarket)
}

func TestSignatureHex(t *testing.T) {
	a, _ := newTestAttester(t, 137)
	sig, err := a.Sign("m", 0)
	require.NoError(t, err)

	enc := EncodeSignature(sig)
	dec, err := DecodeSignature(enc)
	require.NoError(t, err)
	assert.Equal(t, sig, dec)

	dec, err = DecodeSignature(enc[2:])
	require.NoError(t, err)
	assert.Equal(t, sig, dec)

	_, err = DecodeSignature("0xzz")
	assert.ErrorIs(t, err, domain.ErrInvalidSignature)
}

func TestKeystore(t *testing.T) {
	_, keyHex := newTestAttester(t, 137)

	sealed, err := SealKey(keyHex, "hunter2")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "oracle.json")
	require.NoError(t, os.WriteFile(path, sealed, 0o600))

	got, err := KeySource{File: path, Passphrase: "hunter2"}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, keyHex, got)

	_, err = OpenKey(sealed, "wrong")
	assert.Error(t, err)

	got, err = KeySource{Inline: "0x" + keyHex, File: path}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, keyHex, got)

	_, err = KeySource{}.Resolve()
	assert.Error(t, err)

	_, err = SealKey("abcd", "pw")
	assert.Error(t, err)
}

func TestReportMAC(t *testing.T) {
	assert.Nil(t, NewReportMAC(""))

	m := NewReportMAC("secret")
	body := []byte("market_id,user\n")
	sig := m.Sign(body)
	assert.Len(t, sig, 64)
	assert.True(t, m.Verify(body, sig))
	assert.False(t, m.Verify([]byte("tampered"), sig))
	assert.False(t, m.Verify(body, "nothex"))
}

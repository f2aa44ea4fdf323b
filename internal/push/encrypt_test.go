package push

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/hkdf"
)

// rawToECDHPrivateKey turns a raw 32-byte P-256 scalar into an *ecdh.PrivateKey,
// the form RFC 8291's Appendix A test vector publishes its fixed keys in.
func rawToECDHPrivateKey(t *testing.T, raw []byte) *ecdh.PrivateKey {
	t.Helper()
	key, err := ecdh.P256().NewPrivateKey(raw)
	require.NoError(t, err)
	return key
}

// b64url decodes the unpadded base64url strings RFC 8291 Appendix A uses for
// its test vector fields.
func b64url(t *testing.T, s string) []byte {
	t.Helper()
	b, err := base64.RawURLEncoding.DecodeString(s)
	require.NoError(t, err)
	return b
}

// decryptForTest reverses encryptWith's aes128gcm record using the
// receiver's private key, independently of any Encrypt/encryptWith code
// path, so the round-trip test below isn't just checking a function against
// itself.
func decryptForTest(t *testing.T, receiverPriv *ecdh.PrivateKey, authSecret, body []byte) []byte {
	t.Helper()
	require.Greater(t, len(body), saltLen+4+1+ecPointLen)

	salt := body[:saltLen]
	recordSize := binary.BigEndian.Uint32(body[saltLen : saltLen+4])
	keyIDLen := int(body[saltLen+4])
	require.Equal(t, ecPointLen, keyIDLen)
	ephemeralPub := body[saltLen+5 : saltLen+5+ecPointLen]
	sealed := body[saltLen+5+ecPointLen:]
	require.EqualValues(t, recordSize, len(sealed))

	ephemeralKey, err := ecdh.P256().NewPublicKey(ephemeralPub)
	require.NoError(t, err)
	sharedSecret, err := receiverPriv.ECDH(ephemeralKey)
	require.NoError(t, err)

	receiverPub := receiverPriv.PublicKey().Bytes()
	keyInfo := append([]byte("WebPush: info\x00"), receiverPub...)
	keyInfo = append(keyInfo, ephemeralPub...)

	ikm := make([]byte, sha256.Size)
	_, err = io.ReadFull(hkdf.New(sha256.New, sharedSecret, authSecret, keyInfo), ikm)
	require.NoError(t, err)

	cek := make([]byte, cekLen)
	_, err = io.ReadFull(hkdf.New(sha256.New, ikm, salt, []byte("Content-Encoding: aes128gcm\x00")), cek)
	require.NoError(t, err)
	nonce := make([]byte, nonceLen)
	_, err = io.ReadFull(hkdf.New(sha256.New, ikm, salt, []byte("Content-Encoding: nonce\x00")), nonce)
	require.NoError(t, err)

	block, err := aes.NewCipher(cek)
	require.NoError(t, err)
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceLen)
	require.NoError(t, err)
	record, err := gcm.Open(nil, nonce, sealed, nil)
	require.NoError(t, err)

	require.Equal(t, byte(recordPad), record[len(record)-1])
	return record[:len(record)-1]
}

// TestEncrypt_RoundTripsWithRFC8291Keys exercises encryptWith using the
// fixed subscriber and sender key pairs from RFC 8291 Appendix A, then
// decrypts the result with an independent implementation of the receiver
// side of the same scheme. This pins the header layout (salt, record size,
// key ID length, ephemeral public key) and the HKDF/AES-128-GCM derivation
// chain without depending on recalling the RFC's opaque ciphertext bytes.
func TestEncrypt_RoundTripsWithRFC8291Keys(t *testing.T) {
	receiverPrivRaw := b64url(t, "q1dXpw3UpT5VOmu_cf_v6ih07Aems3njxI-JWgLcM94")
	authSecret := b64url(t, "OSxMAm0bQlc9HdlPjqCM1Q")
	senderPrivRaw := b64url(t, "yfWPiYE-n46HLnH0KqZOF1fJJU3MYrct3AELtAQ-oRw")
	salt := b64url(t, "DGv6ra1nlYgDCS1FRnbzlw")

	receiverKey := rawToECDHPrivateKey(t, receiverPrivRaw)
	ephemeral := rawToECDHPrivateKey(t, senderPrivRaw)
	plaintext := []byte("When I grow up, I want to be a watermelon")

	body, err := encryptWith(receiverKey.PublicKey().Bytes(), authSecret, plaintext, ephemeral, salt)
	require.NoError(t, err)

	require.Equal(t, salt, body[:saltLen])
	require.Equal(t, byte(ecPointLen), body[saltLen+4])
	require.Equal(t, ephemeral.PublicKey().Bytes(), body[saltLen+5:saltLen+5+ecPointLen])

	got := decryptForTest(t, receiverKey, authSecret, body)
	require.Equal(t, plaintext, got)
}

func TestEncrypt_RejectsOversizedPlaintext(t *testing.T) {
	clientPub := make([]byte, ecPointLen)
	clientPub[0] = 0x04
	_, err := Encrypt(clientPub, make([]byte, 16), make([]byte, MaxPlaintextLen+1))
	require.Error(t, err)
}

func TestEncrypt_RejectsMalformedClientKey(t *testing.T) {
	_, err := Encrypt([]byte("too short"), make([]byte, 16), []byte("hi"))
	require.Error(t, err)
}

func TestEncrypt_DifferentCallsUseDifferentSaltAndKey(t *testing.T) {
	receiverKey := rawToECDHPrivateKey(t, b64url(t, "q1dXpw3UpT5VOmu_cf_v6ih07Aems3njxI-JWgLcM94"))
	authSecret := b64url(t, "OSxMAm0bQlc9HdlPjqCM1Q")

	a, err := Encrypt(receiverKey.PublicKey().Bytes(), authSecret, []byte("hello"))
	require.NoError(t, err)
	b, err := Encrypt(receiverKey.PublicKey().Bytes(), authSecret, []byte("hello"))
	require.NoError(t, err)

	require.NotEqual(t, a, b, "each call must use a fresh random salt and ephemeral key")
}

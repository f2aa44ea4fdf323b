// Package push implements the RFC 8291 (Message Encryption for Web Push)
// and RFC 8292 (VAPID) pipeline: given a subscriber's public key and auth
// secret plus a payload, it produces the single aes128gcm record a push
// service will accept, signs the request with a VAPID JWT, and delivers it
// over HTTP.
package push

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	// MaxPlaintextLen bounds payload size so header + ciphertext + tag fit
	// a single aes128gcm record.
	MaxPlaintextLen = 4078

	recordPad   = 0x02 // single-record delimiter, RFC 8188 §2
	saltLen     = 16
	authTagLen  = 16
	nonceLen    = 12
	cekLen      = 16
	ecPointLen  = 65 // uncompressed P-256 point
)

// Encrypt derives a one-time content encryption key from an ephemeral ECDH
// exchange with the subscriber's public key and authSecret, then returns
// the aes128gcm wire body (header block || ciphertext || tag) ready to
// POST.
func Encrypt(clientPub, authSecret, plaintext []byte) ([]byte, error) {
	curve := ecdh.P256()
	ephemeral, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("push: generating ephemeral key: %w", err)
	}
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("push: generating salt: %w", err)
	}
	return encryptWith(clientPub, authSecret, plaintext, ephemeral, salt)
}

// encryptWith is Encrypt with the ephemeral key pair and salt supplied by
// the caller instead of generated, so tests can reproduce the RFC 8291
// test vector's fixed ephemeral key and salt byte-for-byte.
func encryptWith(clientPub, authSecret, plaintext []byte, ephemeral *ecdh.PrivateKey, salt []byte) ([]byte, error) {
	if len(plaintext) > MaxPlaintextLen {
		return nil, fmt.Errorf("push: plaintext of %d bytes exceeds %d-byte limit", len(plaintext), MaxPlaintextLen)
	}
	if len(clientPub) != ecPointLen {
		return nil, fmt.Errorf("push: client public key must be %d bytes uncompressed, got %d", ecPointLen, len(clientPub))
	}

	curve := ecdh.P256()
	clientKey, err := curve.NewPublicKey(clientPub)
	if err != nil {
		return nil, fmt.Errorf("push: invalid client public key: %w", err)
	}

	sharedSecret, err := ephemeral.ECDH(clientKey)
	if err != nil {
		return nil, fmt.Errorf("push: ECDH agreement: %w", err)
	}
	ephemeralPub := ephemeral.PublicKey().Bytes()

	keyInfo := make([]byte, 0, len("WebPush: info\x00")+len(clientPub)+len(ephemeralPub))
	keyInfo = append(keyInfo, "WebPush: info\x00"...)
	keyInfo = append(keyInfo, clientPub...)
	keyInfo = append(keyInfo, ephemeralPub...)

	ikm := make([]byte, sha256.Size)
	if err := hkdfExpand(authSecret, sharedSecret, keyInfo, ikm); err != nil {
		return nil, fmt.Errorf("push: deriving IKM: %w", err)
	}

	cek := make([]byte, cekLen)
	if err := hkdfExpand(salt, ikm, []byte("Content-Encoding: aes128gcm\x00"), cek); err != nil {
		return nil, fmt.Errorf("push: deriving CEK: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if err := hkdfExpand(salt, ikm, []byte("Content-Encoding: nonce\x00"), nonce); err != nil {
		return nil, fmt.Errorf("push: deriving nonce: %w", err)
	}

	record := make([]byte, len(plaintext)+1)
	copy(record, plaintext)
	record[len(plaintext)] = recordPad

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, fmt.Errorf("push: building AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceLen)
	if err != nil {
		return nil, fmt.Errorf("push: building GCM mode: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, record, nil) // ciphertext || tag, GCM appends the tag

	header := make([]byte, 0, saltLen+4+1+ecPointLen)
	header = append(header, salt...)
	var recordSize [4]byte
	binary.BigEndian.PutUint32(recordSize[:], uint32(len(record)+authTagLen))
	header = append(header, recordSize[:]...)
	header = append(header, byte(len(ephemeralPub)))
	header = append(header, ephemeralPub...)

	return append(header, sealed...), nil
}

// hkdfExpand runs HKDF-SHA256 (RFC 5869) with the given salt and input
// keying material, filling out with Expand(info) bytes. x/crypto/hkdf
// combines extract+expand into a single io.Reader.
func hkdfExpand(salt, ikm, info, out []byte) error {
	r := hkdf.New(sha256.New, ikm, salt, info)
	_, err := io.ReadFull(r, out)
	return err
}

// AuthHeader builds the RFC 8292 Authorization header for a push request
// to endpoint, so the dispatcher can attach it alongside an Encrypt-ed body
// without reaching into this package's internals.
func AuthHeader(serverKey *ecdsa.PrivateKey, endpoint, subject string, lifetime time.Duration) (string, error) {
	return authHeader(serverKey, endpoint, subject, lifetime, time.Now())
}

/*Package secrets encrypts tenant owner passwords at rest.

The cipher is AES-256-CBC with a random 16-byte IV per call, keyed by a
server-held 256-bit key. Plaintext passwords only exist in memory while a
provisioning or proxy operation needs them.
*/
package secrets

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrDecryption is returned for malformed ciphertext or a key mismatch.
var ErrDecryption = errors.New("cannot decrypt message")

// EncryptedMessage is the hex-encoded IV and ciphertext pair stored in the
// metadata database.
type EncryptedMessage struct {
	IV      string `json:"iv"`
	Payload string `json:"payload"`
}

// Cipher is a symmetric cipher with a process-lifetime key.
type Cipher struct {
	key []byte
}

// NewCipher creates a cipher from a hex-encoded 256-bit key.
func NewCipher(keyHex string) (*Cipher, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return &Cipher{key: key}, nil
}

// Encrypt encrypts the value with a fresh random IV. Two calls with the same
// plaintext produce different IVs and payloads.
func (c *Cipher) Encrypt(value string) (EncryptedMessage, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return EncryptedMessage{}, err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return EncryptedMessage{}, err
	}

	padded := pad([]byte(value), aes.BlockSize)
	encrypted := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(encrypted, padded)

	return EncryptedMessage{
		IV:      hex.EncodeToString(iv),
		Payload: hex.EncodeToString(encrypted),
	}, nil
}

// Decrypt reverses Encrypt. It returns ErrDecryption on malformed input or
// when the message was encrypted with a different key.
func (c *Cipher) Decrypt(message EncryptedMessage) (string, error) {
	iv, err := hex.DecodeString(message.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return "", ErrDecryption
	}
	encrypted, err := hex.DecodeString(message.Payload)
	if err != nil || len(encrypted) == 0 || len(encrypted)%aes.BlockSize != 0 {
		return "", ErrDecryption
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	decrypted := make([]byte, len(encrypted))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(decrypted, encrypted)

	unpadded, ok := unpad(decrypted, aes.BlockSize)
	if !ok {
		return "", ErrDecryption
	}
	return string(unpadded), nil
}

// PKCS#7
func pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, false
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, false
		}
	}
	return data[:len(data)-padding], true
}

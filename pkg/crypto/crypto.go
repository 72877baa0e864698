package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"

	"github.com/Abhishek-yadav04/agis-flow-test/pkg/fl"
)

// KeySize is the AES-256 key length required by Seal and Open.
const KeySize = 32

// Encrypt encrypts data using AES-GCM.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, errors.New("key must be 32 bytes (AES-256)")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts data using AES-GCM.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, errors.New("key must be 32 bytes (AES-256)")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertext, nil)
}

// SealUpdate encrypts a model update envelope with the session key, for
// clients that submit contributions over untrusted transports.
func SealUpdate(update fl.ModelUpdate, key []byte) ([]byte, error) {
	plaintext, err := json.Marshal(update)
	if err != nil {
		return nil, err
	}

	return Encrypt(plaintext, key)
}

// OpenUpdate decrypts and decodes a sealed model update envelope.
func OpenUpdate(sealed, key []byte) (fl.ModelUpdate, error) {
	plaintext, err := Decrypt(sealed, key)
	if err != nil {
		return fl.ModelUpdate{}, err
	}

	var update fl.ModelUpdate
	if err := json.Unmarshal(plaintext, &update); err != nil {
		return fl.ModelUpdate{}, err
	}

	return update, nil
}

// Package envelope reads and writes the JSON cipher envelope {"ct","iv","s"} used by the
// CryptoJS AES passphrase mode.
//
// The passphrase and salt are stretched into an AES-256 key and CBC IV with OpenSSL's
// EVP_BytesToKey (MD5, one round). The format has no authentication tag: a wrong
// passphrase surfaces as a padding failure or as garbage text, never as a distinct error.
package envelope

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/ytget/mirrorresolve/errs"
	"github.com/ytget/mirrorresolve/internal/logger"
)

const (
	keySize  = 32
	ivSize   = aes.BlockSize
	saltSize = 8
)

// Envelope is the decoded cipher parameter set.
type Envelope struct {
	Ciphertext []byte
	IV         []byte
	Salt       []byte
}

type wireEnvelope struct {
	CT string `json:"ct"`
	IV string `json:"iv,omitempty"`
	S  string `json:"s,omitempty"`
}

// Parse decodes the JSON form. Unknown keys are ignored.
func Parse(data string) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return nil, errs.NewError(errs.CodeDecode, "envelope is not JSON", err.Error())
	}
	if w.CT == "" {
		return nil, errs.NewError(errs.CodeDecode, "envelope has no ciphertext")
	}
	ct, err := base64.StdEncoding.DecodeString(w.CT)
	if err != nil {
		return nil, errs.NewError(errs.CodeDecode, "ciphertext is not base64", err.Error())
	}
	e := &Envelope{Ciphertext: ct}
	if w.IV != "" {
		if e.IV, err = hex.DecodeString(w.IV); err != nil {
			return nil, errs.NewError(errs.CodeDecode, "iv is not hex", err.Error())
		}
	}
	if w.S != "" {
		if e.Salt, err = hex.DecodeString(w.S); err != nil {
			return nil, errs.NewError(errs.CodeDecode, "salt is not hex", err.Error())
		}
	}
	return e, nil
}

// Marshal writes the compact JSON form.
func (e *Envelope) Marshal() (string, error) {
	w := wireEnvelope{CT: base64.StdEncoding.EncodeToString(e.Ciphertext)}
	if len(e.IV) > 0 {
		w.IV = hex.EncodeToString(e.IV)
	}
	if len(e.Salt) > 0 {
		w.S = hex.EncodeToString(e.Salt)
	}
	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return string(data), nil
}

// Encode encrypts plaintext under passphrase with a fresh random salt.
func Encode(plaintext, passphrase string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return EncodeWithSalt(plaintext, passphrase, salt)
}

// EncodeWithSalt encrypts plaintext deterministically for a given salt.
// A nil salt produces an unsalted envelope carrying an explicit iv.
func EncodeWithSalt(plaintext, passphrase string, salt []byte) (string, error) {
	key, iv := deriveKey([]byte(passphrase), salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)

	return (&Envelope{Ciphertext: ct, IV: iv, Salt: salt}).Marshal()
}

// Decode decrypts an envelope with passphrase and returns UTF-8 text.
func Decode(data, passphrase string) (string, error) {
	e, err := Parse(data)
	if err != nil {
		return "", err
	}
	return e.Decrypt(passphrase)
}

// Decrypt runs AES-256-CBC with key material derived from passphrase.
func (e *Envelope) Decrypt(passphrase string) (string, error) {
	log := logger.WithComponent(logger.ComponentCipher)

	key, iv := deriveKey([]byte(passphrase), e.Salt)
	if len(e.Salt) == 0 && len(e.IV) == ivSize {
		iv = e.IV
	}
	if len(e.Ciphertext) == 0 || len(e.Ciphertext)%aes.BlockSize != 0 {
		return "", errs.NewError(errs.CodeCipherDecode, "ciphertext is not a multiple of the block size", len(e.Ciphertext))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	plain := make([]byte, len(e.Ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, e.Ciphertext)

	plain, ok := pkcs7Unpad(plain, aes.BlockSize)
	if !ok {
		log.Debug("envelope padding rejected", map[string]interface{}{"bytes": len(e.Ciphertext)})
		return "", errs.NewError(errs.CodeCipherDecode, "invalid padding")
	}
	if !utf8.Valid(plain) {
		log.Debug("envelope plaintext is not utf-8", map[string]interface{}{"bytes": len(plain)})
		return "", errs.NewError(errs.CodeCipherDecode, "plaintext is not utf-8")
	}
	return string(plain), nil
}

// deriveKey implements EVP_BytesToKey with MD5 and a single iteration.
func deriveKey(passphrase, salt []byte) (key, iv []byte) {
	var (
		derived []byte
		prev    []byte
	)
	for len(derived) < keySize+ivSize {
		h := md5.New()
		h.Write(prev)
		h.Write(passphrase)
		h.Write(salt)
		prev = h.Sum(nil)
		derived = append(derived, prev...)
	}
	return derived[:keySize], derived[keySize : keySize+ivSize]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}

package userdata

import (
	"bytes"
	"compress/zlib"
	"crypto/aes"
	"crypto/cipher"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// The envelope is URL-safe base64 of [iv(16) || AES-CBC(zlib(JSON))].
// The AES key is derived from the process-wide secret; the salt is fixed so
// that envelopes survive restarts.

const keyIterations = 4096

var keySalt = []byte("streamfusion.userdata.v1")

// DeriveKey turns the process secret into a 32 byte AES key.
func DeriveKey(secret string) []byte {
	return pbkdf2.Key([]byte(secret), keySalt, keyIterations, 32, sha256.New)
}

// Encode encrypts the user data into the opaque secret path segment.
func Encode(ud UserData, key []byte) (string, error) {
	plain, err := json.Marshal(ud)
	if err != nil {
		return "", fmt.Errorf("couldn't marshal user data: %v", err)
	}

	compressed := bytes.Buffer{}
	zw := zlib.NewWriter(&compressed)
	if _, err = zw.Write(plain); err != nil {
		return "", fmt.Errorf("couldn't compress user data: %v", err)
	}
	if err = zw.Close(); err != nil {
		return "", fmt.Errorf("couldn't finish compressing user data: %v", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("couldn't create cipher: %v", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err = crand.Read(iv); err != nil {
		return "", fmt.Errorf("couldn't generate IV: %v", err)
	}

	padded := pkcs7pad(compressed.Bytes(), aes.BlockSize)
	encrypted := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(encrypted, padded)

	return base64.RawURLEncoding.EncodeToString(append(iv, encrypted...)), nil
}

// Decode decrypts the secret path segment. Callers must downgrade any error
// to anonymous behavior - a broken envelope never fails a request.
func Decode(data string, key []byte) (UserData, error) {
	// Tolerate padded and unpadded envelopes
	data = strings.TrimRight(data, "=")
	raw, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return UserData{}, fmt.Errorf("couldn't base64-decode user data: %v", err)
	}
	if len(raw) < aes.BlockSize || (len(raw)-aes.BlockSize)%aes.BlockSize != 0 {
		return UserData{}, errors.New("envelope has a bad length")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return UserData{}, fmt.Errorf("couldn't create cipher: %v", err)
	}
	iv, encrypted := raw[:aes.BlockSize], raw[aes.BlockSize:]
	padded := make([]byte, len(encrypted))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, encrypted)

	compressed, err := pkcs7unpad(padded, aes.BlockSize)
	if err != nil {
		return UserData{}, err
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return UserData{}, fmt.Errorf("couldn't decompress user data: %v", err)
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		return UserData{}, fmt.Errorf("couldn't decompress user data: %v", err)
	}

	ud := UserData{}
	if err = json.Unmarshal(plain, &ud); err != nil {
		return UserData{}, fmt.Errorf("couldn't unmarshal user data: %v", err)
	}
	return ud, nil
}

func pkcs7pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func pkcs7unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("bad padded length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("bad padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("bad padding")
		}
	}
	return data[:len(data)-padLen], nil
}

package security

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/evgenyvinnik/checkout-api/configs"
)

type CryptoMaterial struct {
	KeyID  string
	AESKey []byte
}

func LoadCryptoMaterial(c configs.Config) (CryptoMaterial, error) {
	if c.Security.AES256B64 == "" {
		return CryptoMaterial{}, errors.New("missing aes256_b64url")
	}
	key, err := base64.RawURLEncoding.DecodeString(c.Security.AES256B64)
	if err != nil {
		return CryptoMaterial{}, fmt.Errorf("decode aes256_b64url: %w", err)
	}
	if len(key) != 32 {
		return CryptoMaterial{}, fmt.Errorf("aes key must be 32 bytes, got %d", len(key))
	}

	id := c.Security.KeyID
	if id == "" {
		id = "v1"
	}
	return CryptoMaterial{KeyID: id, AESKey: key}, nil
}

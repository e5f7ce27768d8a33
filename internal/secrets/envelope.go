package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// EncPrefix marks a configuration value holding a sealed envelope.
const EncPrefix = "enc:"

type Envelope struct {
	KeyID      string `json:"key_id"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Keyring seals credentials with the current master key and opens envelopes
// sealed by any key it still holds, so keys can be rotated.
type Keyring struct {
	current string
	keys    map[string]cipher.AEAD
}

func NewKeyring(current string, keys map[string][]byte) (*Keyring, error) {
	if current == "" {
		return nil, fmt.Errorf("current key id is empty")
	}
	if _, ok := keys[current]; !ok {
		return nil, fmt.Errorf("current key id %q not found", current)
	}
	aeads := make(map[string]cipher.AEAD, len(keys))
	for id, key := range keys {
		if len(key) != 32 {
			return nil, fmt.Errorf("key %q must be 32 bytes", id)
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("key %q: new cipher: %w", id, err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("key %q: new gcm: %w", id, err)
		}
		aeads[id] = aead
	}
	return &Keyring{current: current, keys: aeads}, nil
}

func (k *Keyring) Encrypt(plaintext []byte) (Envelope, error) {
	aead := k.keys[k.current]
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("nonce: %w", err)
	}
	return Envelope{
		KeyID:      k.current,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, plaintext, nil)),
	}, nil
}

func (k *Keyring) Decrypt(env Envelope) ([]byte, error) {
	aead, ok := k.keys[env.KeyID]
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", env.KeyID)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes", aead.NonceSize())
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// Seal returns value as an "enc:" configuration string.
func (k *Keyring) Seal(value string) (string, error) {
	env, err := k.Encrypt([]byte(value))
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	return EncPrefix + string(b), nil
}

// Open reverses Seal. The "enc:" prefix is optional.
func (k *Keyring) Open(sealed string) (string, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(strings.TrimPrefix(sealed, EncPrefix)), &env); err != nil {
		return "", fmt.Errorf("unmarshal envelope: %w", err)
	}
	pt, err := k.Decrypt(env)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Reseal opens a value sealed under any known key and seals it again under
// the current one.
func (k *Keyring) Reseal(sealed string) (string, error) {
	plain, err := k.Open(sealed)
	if err != nil {
		return "", err
	}
	return k.Seal(plain)
}

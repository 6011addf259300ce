package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/argon2"

	"kxctl.dev/go/kxctl/internal/crypto"
)

// Argon2id parameters for the file passphrase. Above OWASP minimums.
const (
	argon2Time    = 4
	argon2Memory  = 128 * 1024 // 128 MiB
	argon2Threads = 4
	argon2KeyLen  = 32
)

const identityFileVersion = 1

// Custody modes recorded in the identity file.
const (
	CustodyPassphrase = ""
	CustodyPIV        = "piv"
)

// identityFile is the on-disk encrypted seed format. Custody selects
// how the seed is protected: empty means an Argon2id passphrase,
// "piv" means a YubiKey-wrapped blob.
type identityFile struct {
	Version       uint8  `json:"version"`
	Custody       string `json:"custody,omitempty"`
	Salt          []byte `json:"salt,omitempty"`
	Nonce         []byte `json:"nonce,omitempty"`
	Ciphertext    []byte `json:"ciphertext,omitempty"`
	Argon2Time    uint32 `json:"argon2_time,omitempty"`
	Argon2Memory  uint32 `json:"argon2_memory,omitempty"`
	Argon2Threads uint8  `json:"argon2_threads,omitempty"`
	PIVBlob       []byte `json:"piv_blob,omitempty"`
}

// identityPlaintext is what the ciphertext decrypts to.
type identityPlaintext struct {
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	Seed        []byte    `json:"seed"`
}

// ErrBadPassphrase is returned when the identity file does not decrypt.
var ErrBadPassphrase = errors.New("invalid passphrase or corrupted identity file")

// SaveEncrypted writes the identity seed to path, encrypted with a key
// derived from the passphrase via Argon2id.
func (id *Identity) SaveEncrypted(path string, passphrase []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	defer crypto.ZeroBytes(key)

	seed := id.Seed()
	if seed == nil {
		return errors.New("identity destroyed")
	}

	plaintext := identityPlaintext{
		DisplayName: id.DisplayName,
		CreatedAt:   id.CreatedAt,
		Seed:        seed,
	}

	plaintextJSON, err := json.Marshal(plaintext)
	crypto.ZeroBytes(seed)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	defer crypto.ZeroBytes(plaintextJSON)

	block, err := aes.NewCipher(key)
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	file := identityFile{
		Version:       identityFileVersion,
		Salt:          salt,
		Nonce:         nonce,
		Ciphertext:    gcm.Seal(nil, nonce, plaintextJSON, nil),
		Argon2Time:    argon2Time,
		Argon2Memory:  argon2Memory,
		Argon2Threads: argon2Threads,
	}

	fileJSON, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal file: %w", err)
	}

	if err := os.WriteFile(path, fileJSON, 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}

// SavePIV writes the identity seed to path, wrapped by a key generated
// on a connected YubiKey. Loading it back needs the same card and its
// PIN.
func (id *Identity) SavePIV(path string, pin []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	seed := id.Seed()
	if seed == nil {
		return errors.New("identity destroyed")
	}

	plaintext := identityPlaintext{
		DisplayName: id.DisplayName,
		CreatedAt:   id.CreatedAt,
		Seed:        seed,
	}

	plaintextJSON, err := json.Marshal(plaintext)
	crypto.ZeroBytes(seed)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	defer crypto.ZeroBytes(plaintextJSON)

	blob, err := crypto.PIVWrap(plaintextJSON, string(pin))
	if err != nil {
		return fmt.Errorf("wrap seed: %w", err)
	}

	file := identityFile{
		Version: identityFileVersion,
		Custody: CustodyPIV,
		PIVBlob: blob,
	}

	fileJSON, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal file: %w", err)
	}

	if err := os.WriteFile(path, fileJSON, 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}

// LoadEncrypted reads an identity from an encrypted seed file.
// The Argon2 parameters stored in the file are honored, so files
// written under older cost settings keep loading. For PIV custody
// the passphrase is the card PIN.
func LoadEncrypted(path string, passphrase []byte) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var file identityFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse file: %w", err)
	}

	if file.Version != identityFileVersion {
		return nil, fmt.Errorf("unsupported identity file version: %d", file.Version)
	}

	var plaintextJSON []byte
	switch file.Custody {
	case CustodyPassphrase:
		plaintextJSON, err = decryptWithPassphrase(&file, passphrase)
	case CustodyPIV:
		plaintextJSON, err = crypto.PIVUnwrap(file.PIVBlob, string(passphrase))
		if errors.Is(err, crypto.ErrPIVPIN) {
			err = ErrBadPassphrase
		}
	default:
		return nil, fmt.Errorf("unsupported custody mode: %q", file.Custody)
	}
	if err != nil {
		return nil, err
	}
	defer crypto.ZeroBytes(plaintextJSON)

	var plaintext identityPlaintext
	if err := json.Unmarshal(plaintextJSON, &plaintext); err != nil {
		return nil, fmt.Errorf("parse identity: %w", err)
	}
	defer crypto.ZeroBytes(plaintext.Seed)

	id, err := FromSeed(plaintext.Seed, plaintext.DisplayName)
	if err != nil {
		return nil, err
	}
	id.CreatedAt = plaintext.CreatedAt

	return id, nil
}

func decryptWithPassphrase(file *identityFile, passphrase []byte) ([]byte, error) {
	key := argon2.IDKey(passphrase, file.Salt, file.Argon2Time, file.Argon2Memory, file.Argon2Threads, argon2KeyLen)
	defer crypto.ZeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, file.Nonce, file.Ciphertext, nil)
	if err != nil {
		return nil, ErrBadPassphrase
	}
	return plaintext, nil
}

// FileCustody reports the custody mode of the seed file at path.
// Unreadable or unparseable files report passphrase custody; the
// subsequent load surfaces the real error.
func FileCustody(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return CustodyPassphrase
	}
	var file identityFile
	if err := json.Unmarshal(data, &file); err != nil {
		return CustodyPassphrase
	}
	return file.Custody
}

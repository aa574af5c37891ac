package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2Params controls the cost factors for Argon2id password hashing.
type Argon2Params struct {
	// Memory is the amount of memory (in kibibytes) to use.
	Memory uint32
	// Time is the number of iterations.
	Time uint32
	// Threads is the degree of parallelism.
	Threads uint8
	// SaltLength is the number of random salt bytes.
	SaltLength uint32
	// KeyLength is the desired length of the derived key in bytes.
	KeyLength uint32
}

// DefaultArgon2Params returns the cost parameters used for stored credentials.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:     64 * 1024, // 64 MiB
		Time:       3,
		Threads:    4,
		SaltLength: 16,
		KeyLength:  32,
	}
}

// HashPassword derives an Argon2id hash of the supplied password and returns
// it in PHC string format. A fresh random salt is generated per call, so the
// same password never hashes to the same string twice.
func HashPassword(password string) (string, error) {
	return HashPasswordWithParams(password, DefaultArgon2Params())
}

// HashPasswordWithParams hashes a password using explicit cost parameters.
func HashPasswordWithParams(password string, params Argon2Params) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password is required")
	}
	if err := validateArgon2Params(params); err != nil {
		return "", err
	}

	salt := make([]byte, params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("crypto: read salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, params.KeyLength)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		params.Memory,
		params.Time,
		params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword reports whether the candidate password matches the encoded
// Argon2id hash. The comparison of derived keys is constant time; malformed
// hashes verify as false.
func VerifyPassword(encodedHash, password string) bool {
	params, salt, key, err := decodeArgon2Hash(encodedHash)
	if err != nil {
		return false
	}

	computed := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(computed, key) == 1
}

func validateArgon2Params(p Argon2Params) error {
	if p.Time == 0 {
		return errors.New("argon2: time cost must be greater than zero")
	}
	if p.Threads == 0 {
		return errors.New("argon2: parallelism must be greater than zero")
	}
	if p.Memory < 8*uint32(p.Threads) {
		return errors.New("argon2: memory cost must be at least 8 * threads")
	}
	if p.SaltLength < 16 {
		return errors.New("argon2: salt must be at least 16 bytes")
	}
	if p.KeyLength < 16 {
		return errors.New("argon2: key length must be at least 16 bytes")
	}
	return nil
}

func decodeArgon2Hash(encoded string) (Argon2Params, []byte, []byte, error) {
	var params Argon2Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return params, nil, nil, errors.New("argon2: invalid hash format")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return params, nil, nil, errors.New("argon2: unsupported version")
	}

	for _, pair := range strings.Split(parts[3], ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return params, nil, nil, errors.New("argon2: invalid parameters")
		}
		value, err := strconv.ParseUint(kv[1], 10, 32)
		if err != nil {
			return params, nil, nil, errors.New("argon2: invalid parameters")
		}
		switch kv[0] {
		case "m":
			params.Memory = uint32(value)
		case "t":
			params.Time = uint32(value)
		case "p":
			params.Threads = uint8(value)
		default:
			return params, nil, nil, errors.New("argon2: invalid parameters")
		}
	}
	if params.Memory == 0 || params.Time == 0 || params.Threads == 0 {
		return params, nil, nil, errors.New("argon2: missing parameters")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < 16 {
		return params, nil, nil, errors.New("argon2: invalid salt")
	}

	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return params, nil, nil, errors.New("argon2: invalid key")
	}

	return params, salt, key, nil
}

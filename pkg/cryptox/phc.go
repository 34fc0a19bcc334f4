package cryptox

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// encodePHC renders a PHC-style string: $argon2id$v=19$m=X,t=Y,p=Z$salt$hash
func encodePHC(salt, hash []byte) string {
	return fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		memory,
		iterations,
		parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
}

// decodePHC parses a PHC-style Argon2id string into salt, hash and parameters.
func decodePHC(encoded string) (salt, hash []byte, params phcParams, err error) {
	parts := strings.Split(encoded, "$")

	// Expected: ["", "argon2id", "v=19", "m=X,t=Y,p=Z", "salt", "hash"]
	if len(parts) != 6 {
		return nil, nil, params, errors.New("invalid hash format: expected 6 parts")
	}
	if parts[1] != "argon2id" {
		return nil, nil, params, errors.New("invalid hash format: not argon2id")
	}
	if parts[2] != "v=19" {
		return nil, nil, params, errors.New("invalid hash format: wrong version")
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d",
		&params.memory, &params.iterations, &params.parallelism); err != nil {
		return nil, nil, params, fmt.Errorf("invalid hash format: failed to parse parameters: %w", err)
	}

	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, params, fmt.Errorf("invalid hash format: failed to decode salt: %w", err)
	}
	hash, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, params, fmt.Errorf("invalid hash format: failed to decode hash: %w", err)
	}

	return salt, hash, params, nil
}

package updater

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
)

// HashAlgorithm tags the digest algorithm carried by a target.
type HashAlgorithm string

const (
	SHA256 HashAlgorithm = "sha256"
	SHA512 HashAlgorithm = "sha512"
)

// Digest pairs an algorithm tag with its expected hex value.
type Digest struct {
	Alg   HashAlgorithm `json:"alg"`
	Value string        `json:"value"`
}

// Target describes one installable firmware image. It is immutable once an
// install attempt starts.
type Target struct {
	// Filename is the artifact name as published by the backend.
	Filename string `json:"filename"`

	// Length is the exact image size in bytes.
	Length uint64 `json:"length"`

	// URI locates the artifact (http(s):// or s3://).
	URI string `json:"uri"`

	// Digests lists the expected digests, strongest first. The first entry
	// is the one enforced during transfer and finalize.
	Digests []Digest `json:"digests"`
}

// Unknown is the target reported when no version has ever been recorded.
func Unknown() Target {
	return Target{}
}

// Unknown reports whether the target carries no identity, i.e. no version
// has ever been recorded.
func (t Target) Unknown() bool {
	return t.Filename == "" && len(t.Digests) == 0
}

// PrimaryDigest returns the enforced digest of the target.
func (t Target) PrimaryDigest() (Digest, error) {
	if len(t.Digests) == 0 {
		return Digest{}, fmt.Errorf("%w: target %q carries no digest", ErrUnsupportedTarget, t.Filename)
	}
	d := t.Digests[0]
	if _, err := newHasher(d.Alg); err != nil {
		return Digest{}, err
	}
	return d, nil
}

// newHasher returns a fresh streaming hasher for the algorithm tag.
func newHasher(alg HashAlgorithm) (hash.Hash, error) {
	switch alg {
	case SHA256:
		return sha256.New(), nil
	case SHA512:
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("%w: unknown hash algorithm %q", ErrUnsupportedTarget, alg)
	}
}

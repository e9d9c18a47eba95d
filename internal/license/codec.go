// Package license implements the license key format: generation of keys that
// embed a product code and a keyed checksum, and their offline verification.
//
// A key looks like RRPP-PPRR-RRRR-CCCC where R is random, P is the product
// code and C is the checksum segment. The checksum is derived from an
// HMAC-SHA256 of the first three segments under the product secret, truncated
// to four base-36 characters. That is a small verification space chosen so
// keys stay short enough to type; it detects typos and casual forgery, it is
// not a general integrity proof.
package license

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"github.com/eyesee/license-server-go/internal/util"
)

// Key geometry. Every character of a key is drawn from Alphabet.
const (
	Alphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	SegmentLength = 4
	SegmentCount  = 4
	KeyLength     = SegmentCount*SegmentLength + SegmentCount - 1
)

// ErrUnknownProduct is returned by Generate for a code missing from the registry.
var ErrUnknownProduct = errors.New("unknown product")

// ErrorKind classifies a failed verification.
type ErrorKind string

const (
	KindInvalidFormat    ErrorKind = "INVALID_FORMAT"
	KindUnknownProduct   ErrorKind = "UNKNOWN_PRODUCT"
	KindChecksumMismatch ErrorKind = "CHECKSUM_MISMATCH"
)

// Verification is the outcome of ParseAndVerify. When Valid is false, Kind
// and Reason describe the first check that failed.
type Verification struct {
	Valid bool
	// Key is the normalized key string, set whenever the input was non-empty.
	Key         string
	ProductCode string
	Product     Product
	Kind        ErrorKind
	Reason      string
}

// Codec generates and verifies keys against a product registry. It never
// touches storage, so verification works offline.
type Codec struct {
	registry *Registry
	random   io.Reader
}

// NewCodec returns a Codec drawing randomness from crypto/rand.
func NewCodec(registry *Registry) *Codec {
	return &Codec{registry: registry, random: rand.Reader}
}

// NewCodecWithRandom is NewCodec with an explicit entropy source.
func NewCodecWithRandom(registry *Registry, random io.Reader) *Codec {
	return &Codec{registry: registry, random: random}
}

func (c *Codec) Registry() *Registry {
	return c.registry
}

// Generate returns a new formatted key for productCode with a valid checksum.
func (c *Codec) Generate(productCode string) (string, error) {
	product, ok := c.registry.Lookup(productCode)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProduct, productCode)
	}

	r1, err := c.randomSegment(2)
	if err != nil {
		return "", err
	}
	r2, err := c.randomSegment(2)
	if err != nil {
		return "", err
	}
	seg3, err := c.randomSegment(SegmentLength)
	if err != nil {
		return "", err
	}

	seg1 := r1 + product.Code[:2]
	seg2 := product.Code[2:] + r2
	seg4 := Checksum(seg1+seg2+seg3, product.Secret)

	return strings.Join([]string{seg1, seg2, seg3, seg4}, "-"), nil
}

// ParseAndVerify normalizes raw and checks its format, product code and
// checksum, in that order.
func (c *Codec) ParseAndVerify(raw string) Verification {
	key := Normalize(raw)
	v := Verification{Key: key}

	segments := strings.Split(key, "-")
	if len(segments) != SegmentCount {
		return v.fail(KindInvalidFormat, "license key must have 4 segments")
	}
	for _, seg := range segments {
		if len(seg) != SegmentLength {
			return v.fail(KindInvalidFormat, "each key segment must be 4 characters")
		}
		if !inAlphabet(seg) {
			return v.fail(KindInvalidFormat, "license key contains invalid characters")
		}
	}

	productCode := ProductCodeOf(segments)
	v.ProductCode = productCode
	product, ok := c.registry.Lookup(productCode)
	if !ok {
		return v.fail(KindUnknownProduct, "product code is not registered")
	}
	v.Product = product

	if Checksum(segments[0]+segments[1]+segments[2], product.Secret) != segments[3] {
		return v.fail(KindChecksumMismatch, "license key checksum does not match")
	}

	v.Valid = true
	return v
}

func (v Verification) fail(kind ErrorKind, reason string) Verification {
	v.Valid = false
	v.Kind = kind
	v.Reason = reason
	return v
}

// Normalize returns the canonical form of a user-supplied key.
func Normalize(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ProductCodeOf recovers the product code from already split key segments.
func ProductCodeOf(segments []string) string {
	return segments[0][2:4] + segments[1][0:2]
}

// Checksum computes the fourth key segment for data under secret.
func Checksum(data, secret string) string {
	digest := util.HmacSHA256(secret, data)
	// 8 hex chars always fit in 32 bits.
	num, _ := strconv.ParseUint(digest[:8], 16, 32)
	return encodeBase36(num, SegmentLength)
}

func encodeBase36(num uint64, length int) string {
	base := uint64(len(Alphabet))
	var out []byte
	for num > 0 {
		out = append([]byte{Alphabet[num%base]}, out...)
		num /= base
	}
	for len(out) < length {
		out = append([]byte{Alphabet[0]}, out...)
	}
	return string(out[:length])
}

func (c *Codec) randomSegment(n int) (string, error) {
	max := big.NewInt(int64(len(Alphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(c.random, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		buf[i] = Alphabet[idx.Int64()]
	}
	return string(buf), nil
}

func inAlphabet(s string) bool {
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(Alphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}

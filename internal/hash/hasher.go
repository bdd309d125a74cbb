package hash

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math/bits"
	"path/filepath"
	"strings"
	"time"

	"github.com/corona10/goimagehash"
	_ "golang.org/x/image/webp"

	"photosweep/internal/models"
)

// Bits is the width of a perceptual hash
const Bits = 64

// ResourceReader opens the primary resource bytes of an asset
type ResourceReader func(ctx context.Context, id string) (io.ReadCloser, error)

// Hasher computes asset signatures from resource bytes
type Hasher struct {
	timeout time.Duration
}

// NewHasher creates a Hasher. A zero timeout disables the per-asset deadline.
func NewHasher(timeout time.Duration) *Hasher {
	return &Hasher{timeout: timeout}
}

// Sign reads the resource and computes the exact hash and, when the bytes
// decode as an image, the perceptual hash. A read error fails the asset; a
// decode error only leaves the perceptual hash absent.
func (h *Hasher) Sign(ctx context.Context, id string, open ResourceReader) (*models.AssetSignature, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	rc, err := open(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to open resource: %w", err)
	}
	defer rc.Close()

	// Every byte the decoder pulls is hashed on the way through; the rest of
	// the stream is hashed after it stops
	digest := sha256.New()
	var n byteCounter
	in := &stickyReader{r: contextReader{ctx: ctx, r: rc}}
	tee := io.TeeReader(in, io.MultiWriter(digest, &n))

	p, decodeErr := PerceptualHash(tee)
	if _, err := io.Copy(io.Discard, tee); err != nil {
		return nil, fmt.Errorf("failed to read resource: %w", err)
	}
	if in.err != nil {
		return nil, fmt.Errorf("failed to read resource: %w", in.err)
	}

	sig := &models.AssetSignature{
		ExactHash:         hex.EncodeToString(digest.Sum(nil)),
		MeasuredByteCount: int64(n),
	}
	if decodeErr == nil {
		sig.Perceptual = p
		sig.HasPerceptual = true
	}

	return sig, nil
}

type byteCounter int64

func (c *byteCounter) Write(p []byte) (int, error) {
	*c += byteCounter(len(p))
	return len(p), nil
}

// stickyReader remembers the first read error so a failure seen by the
// decoder is not mistaken for a decode error
type stickyReader struct {
	r   io.Reader
	err error
}

func (s *stickyReader) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	n, err := s.r.Read(p)
	if err != nil && err != io.EOF {
		s.err = err
	}
	return n, err
}

// PerceptualHash decodes an image and returns its 64-bit pHash
func PerceptualHash(r io.Reader) (uint64, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return 0, fmt.Errorf("failed to decode image: %w", err)
	}

	ph, err := goimagehash.PerceptionHash(img)
	if err != nil {
		return 0, fmt.Errorf("failed to compute hash: %w", err)
	}
	return ph.GetHash(), nil
}

// IsSupportedImage checks if a file is a supported image format
func IsSupportedImage(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	default:
		return false
	}
}

// HammingDistance calculates the Hamming distance between two hashes
func HammingDistance(hash1, hash2 uint64) int {
	return bits.OnesCount64(hash1 ^ hash2)
}

// contextReader stops a copy once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

package fingerprint

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder

	"github.com/corona10/goimagehash"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// HashFunc computes a fingerprint for a decoded image
type HashFunc func(img image.Image) (*goimagehash.ImageHash, error)

// PerceptionHash is the default HashFunc: a 64-bit DCT-based perceptual hash
func PerceptionHash(img image.Image) (*goimagehash.ImageHash, error) {
	return goimagehash.PerceptionHash(img)
}

// Distance returns the Hamming distance between two fingerprints of the same kind
func Distance(a, b *goimagehash.ImageHash) (int, error) {
	if a == nil || b == nil {
		return 0, fmt.Errorf("comparing hashes: nil hash")
	}
	return a.Distance(b)
}

// decodeAndHash decodes raw image bytes and fingerprints the result
func decodeAndHash(data []byte, hashFn HashFunc) (*goimagehash.ImageHash, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	hash, err := hashFn(img)
	if err != nil {
		return nil, fmt.Errorf("hashing image: %w", err)
	}
	return hash, nil
}

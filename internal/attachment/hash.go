package attachment

import (
	"encoding/hex"
	"io"

	sha256simd "github.com/minio/sha256-simd"
)

// HashReader consumes r fully and returns its hex-encoded sha256 digest and
// byte count, using the SIMD-accelerated implementation (spec §4.7 "compute
// hash and size").
func HashReader(r io.Reader) (hash string, size int64, err error) {
	h := sha256simd.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

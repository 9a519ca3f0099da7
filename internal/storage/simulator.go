package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Simulator is the dev-mode StorageClient. It uploads nothing and returns a
// deterministic URL derived from the avatar identity, so local runs exercise
// the archival path without bucket credentials.
type Simulator struct {
	bucket   string
	endpoint string
}

func NewSimulator(bucket, endpoint string) *Simulator {
	return &Simulator{
		bucket:   strings.TrimSpace(bucket),
		endpoint: strings.TrimSpace(endpoint),
	}
}

func (r *Simulator) UploadAvatar(discordID, avatarHash string, imageData []byte) (string, error) {
	if len(imageData) == 0 {
		return "", fmt.Errorf("empty image data")
	}
	return r.SimulatedURL(discordID, avatarHash), nil
}

func (r *Simulator) SimulatedURL(discordID, avatarHash string) string {
	sum := sha256.Sum256([]byte(discordID + ":" + avatarHash))
	key := hex.EncodeToString(sum[:])

	ep := r.endpoint
	if ep == "" {
		ep = "https://r2.example.invalid"
	}
	bucket := r.bucket
	if bucket == "" {
		bucket = "openhr"
	}

	return fmt.Sprintf("%s/%s/avatars/%s.png", strings.TrimRight(ep, "/"), bucket, key)
}

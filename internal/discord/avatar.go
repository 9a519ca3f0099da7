package discord

import (
	"fmt"
	"strings"
)

const cdnBase = "https://cdn.discordapp.com"

// animated avatar hashes carry this marker and resolve to gifs on the CDN
const animatedHashPrefix = "a_"

// AvatarURL derives the CDN URL for a user's avatar. Returns "" when the
// user has no avatar hash.
func AvatarURL(userID, avatarHash string, size int) string {
	if strings.TrimSpace(avatarHash) == "" {
		return ""
	}
	if size <= 0 {
		size = 128
	}

	ext := "png"
	if strings.HasPrefix(avatarHash, animatedHashPrefix) {
		ext = "gif"
	}

	return fmt.Sprintf("%s/avatars/%s/%s.%s?size=%d", cdnBase, userID, avatarHash, ext, size)
}

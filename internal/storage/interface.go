package storage

// StorageClient archives one avatar image and returns its public URL.
type StorageClient interface {
	UploadAvatar(discordID string, avatarHash string, imageData []byte) (string, error)
}

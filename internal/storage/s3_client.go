package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"
)

const maxImageBytes = 5 * 1024 * 1024

type S3Client struct {
	client     *s3.Client
	bucket     string
	publicURL  string
	cdnBase    string
	httpClient *http.Client
}

type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string
	Region          string
}

func NewS3Client(cfg S3Config) (*S3Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed_to_load_aws_config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// R2 and other S3-compatible stores need an explicit endpoint
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &S3Client{
		client:     client,
		bucket:     cfg.Bucket,
		publicURL:  cfg.PublicURL,
		cdnBase:    "https://cdn.discordapp.com",
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (s *S3Client) UploadAvatar(discordID string, avatarHash string, imageData []byte) (string, error) {
	if len(imageData) == 0 {
		return "", fmt.Errorf("empty image data")
	}
	if len(imageData) > maxImageBytes {
		return "", fmt.Errorf("image too large: %d bytes", len(imageData))
	}

	// content hash goes into object metadata for dedup checks
	sum := sha256.Sum256(imageData)
	contentHash := hex.EncodeToString(sum[:])

	img, err := imaging.Decode(bytes.NewReader(imageData))
	if err != nil {
		return "", fmt.Errorf("failed_to_decode_image: %w", err)
	}
	img = imaging.Fit(img, 512, 512, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return "", fmt.Errorf("failed_to_encode_image: %w", err)
	}

	objectKey := fmt.Sprintf("avatars/%s/%s.png", discordID, avatarHash)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("image/png"),
		Metadata: map[string]string{
			"discord_id":  discordID,
			"avatar_hash": avatarHash,
			"image_hash":  contentHash,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed_to_upload_avatar: %w", err)
	}

	if s.publicURL != "" {
		return fmt.Sprintf("%s/%s", s.publicURL, objectKey), nil
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, objectKey), nil
}

// DownloadAvatar fetches the current avatar image from the Discord CDN.
func (s *S3Client) DownloadAvatar(discordID, avatarHash string) ([]byte, error) {
	url := fmt.Sprintf("%s/avatars/%s/%s.png?size=1024", s.cdnBase, discordID, avatarHash)

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed_to_download_avatar: status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "image/png" && contentType != "image/jpeg" && contentType != "image/webp" {
		return nil, fmt.Errorf("invalid content type: %s", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image too large: %d bytes", len(data))
	}
	return data, nil
}

// ArchiveAvatar downloads the avatar from the CDN and uploads it to the
// bucket in one step.
func (s *S3Client) ArchiveAvatar(discordID, avatarHash string) (string, error) {
	imageData, err := s.DownloadAvatar(discordID, avatarHash)
	if err != nil {
		return "", err
	}
	return s.UploadAvatar(discordID, avatarHash, imageData)
}

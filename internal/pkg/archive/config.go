package archive

import (
	"errors"
	"fmt"
	"time"

	"github.com/relay-funder/relay-funder-app-sub004/internal/pkg/env"
)

// Config holds S3 archive configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	Enabled         bool
}

// LoadConfig loads S3 configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Prefix:          env.GetEnv("S3_ARCHIVE_PREFIX", "webhook-events"),
		Enabled:         env.GetBool("S3_ARCHIVE_ENABLED", false),
	}

	// Validate required fields if archiving is enabled
	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when S3 archiving is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when S3 archiving is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when S3 archiving is enabled")
		}
	}

	return config, nil
}

// ObjectKey names one archive batch: <prefix>/YYYY/MM/DD/<firstID>-<lastID>.jsonl
func (c *Config) ObjectKey(at time.Time, firstID, lastID uint) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%d-%d.jsonl", c.Prefix, at.Year(), at.Month(), at.Day(), firstID, lastID)
}

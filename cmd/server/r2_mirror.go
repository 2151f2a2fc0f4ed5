package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"clawparadise.ai/internal/persistence/r2s3"
)

// buildArchiveMirror returns nil unless CP_R2_MIRROR is set, in which case
// every archived game is copied to the configured bucket.
func buildArchiveMirror(archiveDir string, logger *log.Logger) (*r2s3.Mirror, error) {
	if !envBool("CP_R2_MIRROR", false) {
		return nil, nil
	}

	cfg := r2s3.Config{
		Endpoint:        os.Getenv("CP_R2_ENDPOINT"),
		Bucket:          os.Getenv("CP_R2_BUCKET"),
		AccessKeyID:     os.Getenv("CP_R2_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("CP_R2_SECRET_ACCESS_KEY"),
	}
	client, err := r2s3.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("CP_R2_MIRROR is set: %w", err)
	}
	prefix := strings.TrimSpace(os.Getenv("CP_R2_PREFIX"))
	if prefix == "" {
		prefix = "archive"
	}
	logger.Printf("archive mirror: %s bucket=%s prefix=%s", client.Endpoint(), strings.TrimSpace(cfg.Bucket), prefix)
	return r2s3.NewMirror(client, archiveDir, r2s3.MirrorOptions{
		Prefix:  prefix,
		Workers: envInt("CP_R2_UPLOAD_WORKERS", 2),
		Logger:  logger,
	}), nil
}

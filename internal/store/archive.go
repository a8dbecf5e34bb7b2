package store

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ArchiveConfig points at an S3-compatible bucket (R2, MinIO, AWS).
type ArchiveConfig struct {
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

// Archive writes the PGN of every completed match to object storage.
// Non-final records are ignored.
type Archive struct {
	client objectPutter
	bucket string
	prefix string
}

func NewArchive(ctx context.Context, cfg ArchiveConfig) (*Archive, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load archive config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newArchive(client, cfg.Bucket, cfg.Prefix), nil
}

func newArchive(client objectPutter, bucket, prefix string) *Archive {
	return &Archive{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (a *Archive) Name() string { return "archive" }

// Key returns the object key for a match.
func (a *Archive) Key(matchID string) string {
	return path.Join(a.prefix, matchID+".pgn")
}

func (a *Archive) Upsert(ctx context.Context, rec MatchRecord) error {
	if !rec.Finished() {
		return nil
	}
	body := BuildPGN(rec)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.Key(rec.MatchID)),
		Body:        bytes.NewReader([]byte(body)),
		ContentType: aws.String("application/x-chess-pgn"),
		Metadata: map[string]string{
			"match-version": strconv.FormatInt(rec.Version, 10),
			"result":        ResultToken(rec),
		},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", a.Key(rec.MatchID), err)
	}
	return nil
}

func (a *Archive) Close() error { return nil }

// Package notifications holds the observers the cleanup reaper reports
// removed records to.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/grantstore/internal/common"
	"github.com/dmitrijs2005/grantstore/internal/server/models"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// S3Config addresses an S3-compatible bucket such as MinIO.
type S3Config struct {
	RootUser     string
	RootPassword string
	Bucket       string
	Region       string
	BaseEndpoint string
}

// NewS3Client builds a path-style S3 client with static credentials.
func NewS3Client(ctx context.Context, c S3Config) (*s3.Client, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.RootUser,
			c.RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	return newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if c.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.BaseEndpoint)
		}
		o.UsePathStyle = true
	}), nil
}

// ObjectPutter is the part of *s3.Client the archiver needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes every removed batch as one JSON object, so expired
// grants stay auditable after they leave the database.
type S3Archiver struct {
	client ObjectPutter
	bucket string
	now    func() time.Time
}

func NewS3Archiver(client ObjectPutter, bucket string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, now: time.Now}
}

type archive[T any] struct {
	Kind      string    `json:"kind"`
	RemovedAt time.Time `json:"removed_at"`
	Count     int       `json:"count"`
	Records   []T       `json:"records"`
}

// ArchiveKey returns prefix/YYYY/M/D/<uuid>.json for t.
func ArchiveKey(prefix string, t time.Time) string {
	return fmt.Sprintf("%s/%d/%d/%d/%v.json", prefix, t.Year(), int(t.Month()), t.Day(), uuid.New())
}

func put[T any](ctx context.Context, a *S3Archiver, prefix, kind string, records []T) error {
	if len(records) == 0 {
		return nil
	}
	now := a.now().UTC()
	body, err := json.Marshal(archive[T]{Kind: kind, RemovedAt: now, Count: len(records), Records: records})
	if err != nil {
		return fmt.Errorf("archive encode error: %w", err)
	}

	key := ArchiveKey(prefix, now)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive upload error: %w", err)
	}
	return nil
}

func (a *S3Archiver) PersistedGrantsRemoved(ctx context.Context, grants []models.PersistedGrant) error {
	return put(ctx, a, "grants", common.KindPersistedGrants, grants)
}

func (a *S3Archiver) DeviceCodesRemoved(ctx context.Context, codes []models.DeviceFlowCode) error {
	return put(ctx, a, "devicecodes", common.KindDeviceCodes, codes)
}

// Package storage keeps registry snapshots in Tencent Cloud Object Storage
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/birbparty/qcloud-nest/sdk"
)

// DefaultPrefix is the object prefix snapshots live under
const DefaultPrefix = "registry/"

// Config contains configuration for a COS bucket reached through its S3 API
type Config struct {
	Endpoint  string `yaml:"endpoint"` // e.g. "cos.ap-guangzhou.myqcloud.com"
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"` // "<name>-<appid>"
	Prefix    string `yaml:"prefix"`
	SecretID  string `yaml:"secret_id"`
	SecretKey string `yaml:"secret_key"`
}

// EndpointFor returns the S3-compatible COS endpoint of a region
func EndpointFor(region string) string {
	return fmt.Sprintf("cos.%s.myqcloud.com", region)
}

// COSClient stores and serves registry snapshots.
// It implements sdk.SnapshotSource.
type COSClient struct {
	client s3iface.S3API
	bucket string
	prefix string
}

var _ sdk.SnapshotSource = (*COSClient)(nil)

// NewCOSClient creates a new COS client
func NewCOSClient(config Config) (*COSClient, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if config.Endpoint == "" {
		if config.Region == "" {
			return nil, fmt.Errorf("endpoint or region is required")
		}
		config.Endpoint = EndpointFor(config.Region)
	}

	sess, err := session.NewSession(&aws.Config{
		Endpoint:    aws.String(config.Endpoint),
		Region:      aws.String(config.Region),
		Credentials: credentials.NewStaticCredentials(config.SecretID, config.SecretKey, ""),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return NewCOSClientWithAPI(s3.New(sess), config.Bucket, config.Prefix), nil
}

// NewCOSClientWithAPI wraps an existing S3 API implementation
func NewCOSClientWithAPI(api s3iface.S3API, bucket, prefix string) *COSClient {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &COSClient{client: api, bucket: bucket, prefix: prefix}
}

// Bucket returns the bucket name
func (c *COSClient) Bucket() string { return c.bucket }

// List returns the snapshot object names under the prefix, without the prefix
func (c *COSClient) List(ctx context.Context) ([]string, error) {
	var names []string
	err := c.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(c.prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.StringValue(obj.Key), c.prefix)
			// Nested keys belong to other tools
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			names = append(names, name)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	return names, nil
}

// Open retrieves a snapshot by name
func (c *COSClient) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	result, err := c.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.prefix + name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot %s: %w", name, err)
	}

	return result.Body, nil
}

// Publish validates and uploads a snapshot, returning its object key.
// The data must parse as a registry so a bad upload never becomes the
// newest snapshot.
func (c *COSClient) Publish(ctx context.Context, name string, data io.Reader) (string, error) {
	name = path.Base(name)
	if !sdk.IsSnapshotName(name) {
		return "", fmt.Errorf("invalid snapshot name %q: must match %s", name, sdk.SnapshotPattern)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, data); err != nil {
		return "", fmt.Errorf("failed to read data: %w", err)
	}

	reg, err := sdk.ParseRegistry(name, bytes.NewReader(buf.Bytes()))
	if err != nil {
		return "", err
	}

	key := c.prefix + name
	_, err = c.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
		Metadata: map[string]*string{
			"services":     aws.String(fmt.Sprintf("%d", reg.Len())),
			"publish-time": aws.String(time.Now().UTC().Format(time.RFC3339)),
		},
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}

	return key, nil
}

// Delete removes a snapshot by name
func (c *COSClient) Delete(ctx context.Context, name string) error {
	_, err := c.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.prefix + name),
	})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	return nil
}

package proxy

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/platinummonkey/gatekeeper/pkg/domain"
)

// ObjectPutter uploads objects
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options configures NewS3Client
type S3Options struct {
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// NewS3Client builds an S3 client. Static credentials are used when both keys are set,
// otherwise the default credential chain.
func NewS3Client(ctx context.Context, opts S3Options) (*s3.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	}), nil
}

// Storage proxies the storage service to an S3 bucket
type Storage struct {
	client ObjectPutter
	bucket string
}

// NewStorage creates the storage adapter
func NewStorage(client ObjectPutter, bucket string) *Storage {
	return &Storage{client: client, bucket: bucket}
}

func (s *Storage) ServiceID() string { return domain.ServiceStorage }

func (s *Storage) Info() ServiceInfo {
	return ServiceInfo{
		ID:          domain.ServiceStorage,
		Name:        domain.ServiceName(domain.ServiceStorage),
		Status:      "active",
		Description: "File storage in S3",
	}
}

// UploadName strips any directory components from a client-supplied file name.
func UploadName(filename string) (string, error) {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == ".." || strings.TrimSpace(name) == "" {
		return "", &domain.InvalidInputError{Field: "file", Reason: "a file name is required"}
	}
	return name, nil
}

// ObjectKey is where a user's upload is stored: user_<id>/<base name>.
func ObjectKey(userID int64, filename string) (string, error) {
	name, err := UploadName(filename)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("user_%d/%s", userID, name), nil
}

// Call uploads req.Body under the user's prefix.
func (s *Storage) Call(ctx context.Context, userID int64, req Request) (interface{}, error) {
	if req.Operation != OpUpload {
		return nil, unsupported(domain.ServiceStorage, req.Operation)
	}
	key, err := ObjectKey(userID, req.Filename)
	if err != nil {
		return nil, err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(req.Body),
	}
	if ct := req.Param("content_type"); ct != "" {
		input.ContentType = aws.String(ct)
	}

	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	return map[string]interface{}{
		"bucket": s.bucket,
		"key":    key,
		"size":   len(req.Body),
		"etag":   aws.ToString(out.ETag),
	}, nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/zynqcloud/go-upload/internal/file"
)

// S3Options configures the "s3" backend. Endpoint and PathStyle allow any
// S3-compatible service (MinIO, Ceph RGW).
type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	PathStyle bool
	ACL       string
	AssetHost string // public URL prefix; defaults to the bucket URL
}

// S3 stores files as objects in a single bucket.
type S3 struct {
	opts S3Options

	mu       sync.Mutex
	client   *s3.S3
	uploader *s3manager.Uploader
}

// NewS3 validates opts. The session is opened lazily by Setup.
func NewS3(opts S3Options) (*S3, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	return &S3{opts: opts}, nil
}

func (s *S3) Setup(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return nil
	}
	cfg := aws.Config{
		Region:           aws.String(s.opts.Region),
		S3ForcePathStyle: aws.Bool(s.opts.PathStyle),
	}
	if s.opts.Endpoint != "" {
		cfg.Endpoint = aws.String(s.opts.Endpoint)
	}
	if s.opts.AccessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(s.opts.AccessKey, s.opts.SecretKey, "")
	}
	ses, err := session.NewSessionWithOptions(session.Options{Config: cfg})
	if err != nil {
		return fmt.Errorf("s3: open session: %w", err)
	}
	s.client = s3.New(ses)
	s.uploader = s3manager.NewUploaderWithClient(s.client)
	return nil
}

func (s *S3) Store(ctx context.Context, p string, src *file.Staged, opts PutOptions) (File, error) {
	if err := s.Setup(ctx); err != nil {
		return nil, err
	}
	key := objectKey(p)
	body, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer body.Close()

	ctype := src.ContentType()
	in := &s3manager.UploadInput{
		Bucket:      aws.String(s.opts.Bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(ctype),
	}
	if s.opts.ACL != "" {
		in.ACL = aws.String(s.opts.ACL)
	}
	if _, err := s.uploader.UploadWithContext(ctx, in); err != nil {
		return nil, fmt.Errorf("s3: put %s: %w", key, err)
	}
	if opts.Move && src.Path() != "" {
		if err := src.Delete(); err != nil {
			return nil, err
		}
	}
	return &s3Object{s: s, key: key, ctype: ctype}, nil
}

func (s *S3) Retrieve(ctx context.Context, p string) (File, error) {
	if err := s.Setup(ctx); err != nil {
		return nil, err
	}
	return &s3Object{s: s, key: objectKey(p)}, nil
}

// List returns the basenames of the objects directly under dir.
func (s *S3) List(ctx context.Context, dir string) ([]string, error) {
	if err := s.Setup(ctx); err != nil {
		return nil, err
	}
	prefix := objectKey(dir)
	if prefix != "" {
		prefix += "/"
	}
	var names []string
	err := s.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.opts.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			names = append(names, strings.TrimPrefix(aws.StringValue(obj.Key), prefix))
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("s3: list %s: %w", prefix, err)
	}
	return names, nil
}

// URL returns the public URL of key.
func (s *S3) URL(key string) string {
	if s.opts.AssetHost != "" {
		return strings.TrimSuffix(s.opts.AssetHost, "/") + "/" + key
	}
	if s.opts.Endpoint != "" {
		base := strings.TrimSuffix(s.opts.Endpoint, "/")
		if s.opts.PathStyle {
			return base + "/" + s.opts.Bucket + "/" + key
		}
		scheme, host, ok := strings.Cut(base, "://")
		if ok {
			return scheme + "://" + s.opts.Bucket + "." + host + "/" + key
		}
		return base + "/" + s.opts.Bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.opts.Bucket, s.opts.Region, key)
}

func objectKey(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// notFound reports whether err is an S3 "no such key" answer.
func notFound(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	var rerr awserr.RequestFailure
	return errors.As(err, &rerr) && rerr.StatusCode() == http.StatusNotFound
}

type s3Object struct {
	s     *S3
	key   string
	ctype string
}

func (o *s3Object) Path() string     { return o.key }
func (o *s3Object) Filename() string { return path.Base(o.key) }
func (o *s3Object) URL() string      { return o.s.URL(o.key) }

func (o *s3Object) head() (*s3.HeadObjectOutput, error) {
	return o.s.client.HeadObject(&s3.HeadObjectInput{
		Bucket: aws.String(o.s.opts.Bucket),
		Key:    aws.String(o.key),
	})
}

func (o *s3Object) ContentType() string {
	if o.ctype != "" {
		return o.ctype
	}
	out, err := o.head()
	if err != nil {
		return ""
	}
	o.ctype = aws.StringValue(out.ContentType)
	return o.ctype
}

func (o *s3Object) Size() (int64, error) {
	out, err := o.head()
	if notFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("s3: head %s: %w", o.key, err)
	}
	return aws.Int64Value(out.ContentLength), nil
}

func (o *s3Object) Open() (io.ReadCloser, error) {
	out, err := o.s.client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(o.s.opts.Bucket),
		Key:    aws.String(o.key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3: get %s: %w", o.key, err)
	}
	return out.Body, nil
}

func (o *s3Object) Delete(ctx context.Context) error {
	_, err := o.s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(o.s.opts.Bucket),
		Key:    aws.String(o.key),
	})
	if err != nil && !notFound(err) {
		return fmt.Errorf("s3: delete %s: %w", o.key, err)
	}
	return nil
}

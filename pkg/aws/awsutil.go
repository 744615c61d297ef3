package aws

import (
	"context"
	"fmt"
	"io"

	sdk "github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Client is an abstraction layer for interacting with AWS services.
type Client struct {
	s3 s3iface.S3API
}

// NewClient creates a new AWS client, expecting that the environment variables configure the settings.
// A non-empty region overrides the configured one.
func NewClient(region string) *Client {
	cfg := sdk.NewConfig()
	if region != "" {
		cfg = cfg.WithRegion(region)
	}
	sess := session.Must(session.NewSessionWithOptions(session.Options{
		Config:            *cfg,
		SharedConfigState: session.SharedConfigEnable,
	}))
	return &Client{
		s3: s3.New(sess),
	}
}

// NewClientWithAPI wraps an existing S3 implementation.
func NewClientWithAPI(api s3iface.S3API) *Client {
	return &Client{s3: api}
}

// GetHeadObject returns the metadata of an object.
func (c *Client) GetHeadObject(ctx context.Context, bucket, key string) (*s3.HeadObjectOutput, error) {
	output, err := c.s3.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		log.Errorf("error getting S3 head object (bucket: %s)(key: %s), err: %v", bucket, key, err)
		return nil, errors.Wrapf(err, "head s3://%s/%s", bucket, key)
	}
	return output, nil
}

// GetS3ObjectWithRange fetches a byte range such as "bytes=0-99" of an object.
func (c *Client) GetS3ObjectWithRange(ctx context.Context, bucket, key, byteRange string) (*s3.GetObjectOutput, error) {
	output, err := c.s3.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Range:  &byteRange,
	})
	if err != nil {
		log.Errorf("error getting S3 object (bucket: %s)(key: %s)(range: %s), err: %v", bucket, key, byteRange, err)
		return nil, errors.Wrapf(err, "get s3://%s/%s %s", bucket, key, byteRange)
	}
	return output, nil
}

// ObjectReader gives random access to an S3 object through ranged GETs.
type ObjectReader struct {
	client *Client
	ctx    context.Context
	bucket string
	key    string
	size   int64
}

// NewObjectReader looks up the size of the object and returns a reader for it.
func (c *Client) NewObjectReader(ctx context.Context, bucket, key string) (*ObjectReader, error) {
	head, err := c.GetHeadObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	if head.ContentLength == nil {
		return nil, errors.Errorf("head s3://%s/%s: no content length", bucket, key)
	}
	return &ObjectReader{
		client: c,
		ctx:    ctx,
		bucket: bucket,
		key:    key,
		size:   *head.ContentLength,
	}, nil
}

// Size returns the object length.
func (o *ObjectReader) Size() int64 { return o.size }

// ReadAt implements io.ReaderAt.
func (o *ObjectReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.Errorf("s3 read at negative offset %d", off)
	}
	if off >= o.size {
		return 0, io.EOF
	}
	end := off + int64(len(p))
	if end > o.size {
		end = o.size
	}
	if end == off {
		return 0, nil
	}
	byteRange := fmt.Sprintf("bytes=%d-%d", off, end-1)
	output, err := o.client.GetS3ObjectWithRange(o.ctx, o.bucket, o.key, byteRange)
	if err != nil {
		return 0, err
	}
	defer output.Body.Close()

	n, err := io.ReadFull(output.Body, p[:end-off])
	if err != nil {
		return n, errors.Wrapf(err, "read s3://%s/%s %s", o.bucket, o.key, byteRange)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

package byteio

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Source is a Source backed by ranged GetObject calls against one S3
// object, so a Parquet file never needs to be downloaded wholesale before
// its footer (or any individual column chunk) can be read.
type S3Source struct {
	client *s3.Client
	bucket string
	key    string
	size   int64
}

type S3Options struct {
	Region   string
	Endpoint string
}

// OpenS3Object issues a HeadObject to learn the object's size and returns
// a ready-to-use Source.
func OpenS3Object(ctx context.Context, opts S3Options, bucket, key string) (*S3Source, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("byteio: loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		})
	}
	client := s3.NewFromConfig(awsCfg, s3Opts...)

	head, err := client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, fmt.Errorf("byteio: HeadObject %s/%s: %w", bucket, key, err)
	}
	size := int64(0)
	if head.ContentLength != nil {
		size = *head.ContentLength
	}

	return &S3Source{client: client, bucket: bucket, key: key, size: size}, nil
}

func (s *S3Source) Size() (int64, error) {
	return s.size, nil
}

// ReadAt issues a GetObject with an HTTP Range header covering exactly
// [off, off+len(p)); it satisfies io.ReaderAt's full-read contract by
// looping until p is filled or the object is exhausted.
func (s *S3Source) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	end := off + int64(len(p)) - 1
	if end >= s.size {
		end = s.size - 1
	}
	rangeHeader := fmt.Sprintf("bytes=%d-%d", off, end)

	out, err := s.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return 0, fmt.Errorf("byteio: GetObject %s/%s range %s: %w", s.bucket, s.key, rangeHeader, err)
	}
	defer out.Body.Close()

	n, err := io.ReadFull(out.Body, p[:end-off+1])
	if err != nil && err != io.ErrUnexpectedEOF {
		return n, err
	}
	if int64(n) < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

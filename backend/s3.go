package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/cenkalti/backoff"
	"golang.org/x/net/http2"

	"github.com/ehrlich-b/go-tgtbs/internal/constants"
	"github.com/ehrlich-b/go-tgtbs/internal/interfaces"
	"github.com/ehrlich-b/go-tgtbs/internal/logging"
)

// s3KeyFmt names the object holding one chunk: volume prefix, chunk index.
const s3KeyFmt = "%s/%016x"

// s3ChunkLocks is the number of striped locks serializing read-modify-write
// of partially written chunks.
const s3ChunkLocks = 64

// S3Options configures the "s3" template. When Client is nil one is built
// from the connection fields.
type S3Options struct {
	Client s3iface.S3API

	Remote    string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string

	ChunkSize int64 // bytes per object, defaults to constants.DefaultS3ChunkSize
	Retries   int   // retries per request, defaults to constants.DefaultS3Retries
	Logger    *logging.Logger
}

// NewS3Client returns an S3 client for o, using path-style addressing so
// that S3-compatible servers work.
func NewS3Client(o S3Options) (s3iface.S3API, error) {
	tr := &http.Transport{
		ResponseHeaderTimeout: 5 * time.Second,
		Proxy:                 http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
			Timeout:   5 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		MaxIdleConnsPerHost:   10,
		ExpectContinueTimeout: time.Second,
	}
	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}

	cfg := &aws.Config{
		Region:                        aws.String(o.Region),
		S3ForcePathStyle:              aws.Bool(true),
		S3DisableContentMD5Validation: aws.Bool(true),
		HTTPClient:                    &http.Client{Transport: tr},
	}
	if o.Remote != "" {
		cfg.Endpoint = aws.String(o.Remote)
	}
	if o.AccessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(o.AccessKey, o.SecretKey, "")
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return s3.New(sess), nil
}

// S3 stores a volume as fixed-size objects in a bucket. Object i holds bytes
// [i*chunk, (i+1)*chunk). Missing objects read as zeros.
type S3 struct {
	client   s3iface.S3API
	bucket   string
	prefix   string
	size     int64
	chunk    int64
	retries  int
	readOnly bool
	logger   *logging.Logger

	locks [s3ChunkLocks]sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	gets    atomic.Uint64
	puts    atomic.Uint64
	deletes atomic.Uint64
	retried atomic.Uint64
}

// OpenS3 opens the volume named prefix in o.Bucket, creating the bucket when
// it does not exist.
func OpenS3(o S3Options, prefix string, size int64, readOnly bool) (*S3, error) {
	if prefix == "" {
		return nil, errNoPath
	}
	if o.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	if size == 0 {
		size = constants.DefaultDeviceSize
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = constants.DefaultS3ChunkSize
	}
	if o.Retries <= 0 {
		o.Retries = constants.DefaultS3Retries
	}
	if o.Logger == nil {
		o.Logger = logging.Default()
	}
	if o.Client == nil {
		c, err := NewS3Client(o)
		if err != nil {
			return nil, err
		}
		o.Client = c
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &S3{
		client:   o.Client,
		bucket:   o.Bucket,
		prefix:   prefix,
		size:     size,
		chunk:    o.ChunkSize,
		retries:  o.Retries,
		readOnly: readOnly,
		logger:   o.Logger.WithTemplate("s3"),
		ctx:      ctx,
		cancel:   cancel,
	}
	if err := s.makeBucketExist(); err != nil {
		cancel()
		return nil, fmt.Errorf("bucket %s: %w", o.Bucket, err)
	}
	return s, nil
}

// S3Template returns the "s3" template. OpenParams.Path names the volume.
func S3Template(o S3Options) interfaces.Template {
	return interfaces.NewTemplate("s3", func(p interfaces.OpenParams) (interfaces.Store, error) {
		s, err := OpenS3(o, p.Path, p.Size, p.ReadOnly)
		if err != nil {
			return nil, err
		}
		return interfaces.AsStore(s), nil
	})
}

func (s *S3) makeBucketExist() error {
	err := s.retry("head bucket", func() error {
		_, err := s.client.HeadBucketWithContext(s.ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
		return err
	})
	if err == nil || s.readOnly {
		return err
	}

	s.logger.Info("creating bucket", "bucket", s.bucket)
	if _, err := s.client.CreateBucketWithContext(s.ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return err
	}
	return s.client.WaitUntilBucketExistsWithContext(s.ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
}

func (s *S3) key(idx int64) string {
	return fmt.Sprintf(s3KeyFmt, s.prefix, idx)
}

// retry runs op with exponential backoff. Client errors other than
// throttling are not retried.
func (s *S3) retry(what string, op func() error) error {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = constants.S3InitialBackoff
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(s.retries)), s.ctx)

	attempt := 0
	return backoff.Retry(func() error {
		if attempt > 0 {
			s.retried.Add(1)
		}
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		s.logger.Warn("s3 request failed", "request", what, "attempt", attempt, "error", err)
		return err
	}, b)
}

func retryable(err error) bool {
	if isNotFound(err) {
		return false
	}
	var rf awserr.RequestFailure
	if errors.As(err, &rf) {
		code := rf.StatusCode()
		return code >= 500 || code == http.StatusTooManyRequests
	}
	var ae awserr.Error
	if errors.As(err, &ae) {
		return ae.Code() != request.CanceledErrorCode
	}
	return true
}

func isNotFound(err error) bool {
	var ae awserr.Error
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return true
	}
	return false
}

// readChunk fills buf from chunk idx starting at off within the chunk.
func (s *S3) readChunk(idx, off int64, buf []byte) error {
	rng := fmt.Sprintf("bytes=%d-%d", off, off+int64(len(buf))-1)
	return s.retry("get", func() error {
		s.gets.Add(1)
		out, err := s.client.GetObjectWithContext(s.ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(idx)),
			Range:  aws.String(rng),
		})
		if isNotFound(err) {
			clear(buf)
			return nil
		}
		if err != nil {
			return err
		}
		defer out.Body.Close()

		n, err := io.ReadFull(out.Body, buf)
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			clear(buf[n:])
			return nil
		}
		return err
	})
}

func (s *S3) putChunk(idx int64, data []byte) error {
	return s.retry("put", func() error {
		s.puts.Add(1)
		_, err := s.client.PutObjectWithContext(s.ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(idx)),
			Body:   bytes.NewReader(data),
		})
		return err
	})
}

func (s *S3) deleteChunk(idx int64) error {
	return s.retry("delete", func() error {
		s.deletes.Add(1)
		_, err := s.client.DeleteObjectWithContext(s.ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.key(idx)),
		})
		if isNotFound(err) {
			return nil
		}
		return err
	})
}

// update rewrites part of chunk idx. fill writes the new bytes into the full
// chunk image; a nil fill with a full-chunk extent deletes the object.
func (s *S3) update(idx, off, n int64, fill func(chunk []byte)) error {
	mu := &s.locks[idx%s3ChunkLocks]
	mu.Lock()
	defer mu.Unlock()

	if off == 0 && n == s.chunk && fill == nil {
		return s.deleteChunk(idx)
	}

	img := make([]byte, s.chunk)
	if off != 0 || n != s.chunk {
		if err := s.readChunk(idx, 0, img); err != nil {
			return err
		}
	}
	if fill == nil {
		clear(img[off : off+n])
	} else {
		fill(img[off : off+n])
	}
	return s.putChunk(idx, img)
}

// forEachChunk splits [off, off+n) at chunk boundaries.
func (s *S3) forEachChunk(off, n int64, fn func(idx, chunkOff, pos, length int64) error) error {
	pos := int64(0)
	for pos < n {
		abs := off + pos
		idx := abs / s.chunk
		chunkOff := abs % s.chunk
		length := min(s.chunk-chunkOff, n-pos)
		if err := fn(idx, chunkOff, pos, length); err != nil {
			return err
		}
		pos += length
	}
	return nil
}

// ReadAt implements the Backend interface
func (s *S3) ReadAt(p []byte, off int64) (int, error) {
	if off >= s.size {
		return 0, io.EOF
	}
	want := min(int64(len(p)), s.size-off)
	done := 0
	err := s.forEachChunk(off, want, func(idx, chunkOff, pos, length int64) error {
		if err := s.readChunk(idx, chunkOff, p[pos:pos+length]); err != nil {
			return err
		}
		done += int(length)
		return nil
	})
	return done, err
}

// WriteAt implements the Backend interface
func (s *S3) WriteAt(p []byte, off int64) (int, error) {
	if s.readOnly {
		return 0, errReadOnlyFS
	}
	if off+int64(len(p)) > s.size {
		return 0, fmt.Errorf("write beyond end of device")
	}
	done := 0
	err := s.forEachChunk(off, int64(len(p)), func(idx, chunkOff, pos, length int64) error {
		err := s.update(idx, chunkOff, length, func(dst []byte) {
			copy(dst, p[pos:pos+length])
		})
		if err != nil {
			return err
		}
		done += int(length)
		return nil
	})
	return done, err
}

// Discard implements the DiscardBackend interface. Whole chunks are deleted.
func (s *S3) Discard(offset, length int64) error {
	if s.readOnly {
		return errReadOnlyFS
	}
	if offset >= s.size || length <= 0 {
		return nil
	}
	length = min(length, s.size-offset)
	return s.forEachChunk(offset, length, func(idx, chunkOff, _, n int64) error {
		return s.update(idx, chunkOff, n, nil)
	})
}

// Flush implements the Backend interface. Acknowledged puts are durable.
func (s *S3) Flush() error {
	return nil
}

// Size implements the Backend interface
func (s *S3) Size() int64 {
	return s.size
}

// Close aborts outstanding retries.
func (s *S3) Close() error {
	s.cancel()
	return nil
}

// Stats implements the StatBackend interface
func (s *S3) Stats() map[string]interface{} {
	return map[string]interface{}{
		"type":       "s3",
		"bucket":     s.bucket,
		"volume":     s.prefix,
		"size":       s.size,
		"chunk_size": s.chunk,
		"gets":       s.gets.Load(),
		"puts":       s.puts.Load(),
		"deletes":    s.deletes.Load(),
		"retries":    s.retried.Load(),
	}
}

var (
	_ interfaces.DiscardBackend = (*S3)(nil)
	_ interfaces.StatBackend    = (*S3)(nil)
)

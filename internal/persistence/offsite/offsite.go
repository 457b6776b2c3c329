// Package offsite copies backup files to an S3-compatible bucket.
package offsite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"geik.xyz/farmer/internal/config"
)

type Stats struct {
	UploadSuccessTotal uint64
	UploadFailTotal    uint64
	LastSuccessUnix    int64
	LastErrorUnix      int64
}

// Uploader puts files under dataDir into the bucket, keyed by their path
// relative to dataDir. Uploads are synchronous so shutdown can wait for them.
type Uploader struct {
	client  *Client
	dataDir string
	prefix  string
	timeout time.Duration
	tries   int
	log     *log.Logger

	initial time.Duration

	uploadSuccessTotal atomic.Uint64
	uploadFailTotal    atomic.Uint64
	lastSuccessUnix    atomic.Int64
	lastErrorUnix      atomic.Int64
}

func New(cfg config.Offsite, dataDir string, logger *log.Logger) (*Uploader, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	client, err := NewClient(cfg.Endpoint, cfg.Region, cfg.Bucket, cfg.AccessKeyID, cfg.SecretAccessKey)
	if err != nil {
		return nil, err
	}
	return &Uploader{
		client:  client,
		dataDir: dataDir,
		prefix:  strings.Trim(strings.ReplaceAll(cfg.Prefix, "\\", "/"), "/"),
		timeout: cfg.Timeout(),
		tries:   cfg.MaxRetries + 1,
		log:     logger,
		initial: 200 * time.Millisecond,
	}, nil
}

// Upload copies one file and returns its object key.
func (u *Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	key, err := u.objectKey(localPath)
	if err != nil {
		return "", err
	}
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = u.initial
	b.MaxInterval = 5 * time.Second

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := u.client.PutFile(ctx, key, localPath)
		var se *StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(u.tries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			u.log.Printf("offsite: upload %s attempt %d failed: %v (retry in %s)", key, attempt, err, next)
		}),
	)
	if err != nil {
		u.uploadFailTotal.Add(1)
		u.lastErrorUnix.Store(time.Now().UTC().Unix())
		return key, fmt.Errorf("offsite upload %s: %w", key, err)
	}
	u.uploadSuccessTotal.Add(1)
	u.lastSuccessUnix.Store(time.Now().UTC().Unix())
	return key, nil
}

func (u *Uploader) Stats() Stats {
	return Stats{
		UploadSuccessTotal: u.uploadSuccessTotal.Load(),
		UploadFailTotal:    u.uploadFailTotal.Load(),
		LastSuccessUnix:    u.lastSuccessUnix.Load(),
		LastErrorUnix:      u.lastErrorUnix.Load(),
	}
}

func (u *Uploader) objectKey(localPath string) (string, error) {
	if localPath == "" {
		return "", fmt.Errorf("empty local path")
	}
	absBase, err := filepath.Abs(u.dataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside data dir %s", absLocal, absBase)
	}
	if u.prefix != "" {
		return path.Join(u.prefix, rel), nil
	}
	return rel, nil
}

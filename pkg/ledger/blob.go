package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cccc-dev/cccc/pkg/contracts"
)

// BlobStore is the content-addressed attachment store. Every group keeps
// its own blobs directory (state/blobs/<first2>/<sha256>) so a group's
// state can be archived or deleted as a self-contained unit; the mirror,
// when configured, is a flat bucket keyed the same way across all groups.
type BlobStore struct {
	root   string // runtime home
	mirror *s3Mirror
}

func newBlobStore(runtimeHome string) (*BlobStore, error) {
	bs := &BlobStore{root: runtimeHome}
	if bucket := os.Getenv("CCCC_BLOB_MIRROR_BUCKET"); bucket != "" {
		m, err := newS3Mirror(bucket)
		if err != nil {
			return nil, fmt.Errorf("configure blob mirror: %w", err)
		}
		bs.mirror = m
	}
	return bs, nil
}

func (b *BlobStore) dirFor(groupID, sha string) string {
	return filepath.Join(b.root, "groups", groupID, "state", "blobs", sha[:2])
}

func (b *BlobStore) pathFor(groupID, sha string) string {
	return filepath.Join(b.dirFor(groupID, sha), sha)
}

// Put stores data under its sha256 digest for groupID, idempotently: a
// second Put of identical bytes is a no-op beyond the hash computation.
// Mismatched bytes under an existing digest can only happen from a hash
// collision and are not checked for; this mirrors the ledger's own
// trust-the-writer posture (contents are produced locally, not accepted
// from an untrusted network peer).
func (b *BlobStore) Put(groupID string, data []byte) (contracts.Blob, error) {
	sum := sha256.Sum256(data)
	sha := hex.EncodeToString(sum[:])

	dir := b.dirFor(groupID, sha)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return contracts.Blob{}, fmt.Errorf("create blob dir: %w", err)
	}

	path := b.pathFor(groupID, sha)
	if _, err := os.Stat(path); err == nil {
		return contracts.Blob{SHA256: sha, Bytes: int64(len(data))}, nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return contracts.Blob{}, fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return contracts.Blob{}, fmt.Errorf("commit blob: %w", err)
	}

	blob := contracts.Blob{SHA256: sha, Bytes: int64(len(data))}
	if b.mirror != nil {
		go b.mirror.upload(groupID, sha, data)
	}
	return blob, nil
}

// Get reads back a previously stored blob by digest. Falls through to the
// mirror (if configured) on a local miss, re-seeding the local path so the
// next Get is served from disk.
func (b *BlobStore) Get(ctx context.Context, groupID, sha string) ([]byte, error) {
	path := b.pathFor(groupID, sha)
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	if b.mirror == nil {
		return nil, contracts.NewDomainError(contracts.CodeNoSuchGroup, "blob not found", map[string]interface{}{"sha256": sha})
	}

	data, err = b.mirror.download(ctx, groupID, sha)
	if err != nil {
		return nil, contracts.NewDomainError(contracts.CodeIOError, fmt.Sprintf("blob mirror fetch: %v", err), nil)
	}
	if err := os.MkdirAll(b.dirFor(groupID, sha), 0o755); err == nil {
		_ = os.WriteFile(path, data, 0o644)
	}
	return data, nil
}

// Path returns the on-disk location of a blob without reading it, for the
// IPC layer to stream it directly.
func (b *BlobStore) Path(groupID, sha string) string {
	return b.pathFor(groupID, sha)
}

// s3Mirror asynchronously copies blobs to an S3 (or S3-compatible) bucket
// so attachments survive a lost workstation. It is strictly a mirror: the
// local filesystem remains authoritative, and a mirror upload failure is
// logged, never surfaced to the caller of Put.
type s3Mirror struct {
	client *s3.Client
	bucket string
}

func newS3Mirror(bucket string) (*s3Mirror, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &s3Mirror{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (m *s3Mirror) key(groupID, sha string) string {
	return fmt.Sprintf("%s/%s/%s", groupID, sha[:2], sha)
}

func (m *s3Mirror) upload(groupID, sha string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key(groupID, sha)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		slog.Warn("blob mirror upload failed", "group_id", groupID, "sha256", sha, "err", err)
	}
}

func (m *s3Mirror) download(ctx context.Context, groupID, sha string) ([]byte, error) {
	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.key(groupID, sha)),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

const uploadTimeout = 30 * time.Second

package storage

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"

	"github.com/YoshitsuguKoike/deeflow/internal/app"
)

// ManifestName is the archive index object written last
const ManifestName = "manifest.json"

// S3Config holds archive bucket settings
type S3Config struct {
	BucketName string
	Prefix     string
	Region     string
}

// RunArchive copies run directories to S3.
// Layout: s3://<bucket>/<prefix>/runs/<runID>/<file>, plus manifest.json.
type RunArchive struct {
	client S3API
	bucket string
	prefix string
	now    func() time.Time
}

// ArchivedFile describes one uploaded file
type ArchivedFile struct {
	Name   string `json:"name"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
	Digest string `json:"blake3"`
}

// ArchiveManifest is the index of an archived run
type ArchiveManifest struct {
	RunID      string         `json:"run_id"`
	Bucket     string         `json:"bucket"`
	Files      []ArchivedFile `json:"files"`
	ArchivedAt time.Time      `json:"archived_at"`
}

// NewRunArchive loads the default AWS configuration and creates an archive
func NewRunArchive(ctx context.Context, cfg S3Config) (*RunArchive, error) {
	if cfg.BucketName == "" {
		return nil, fmt.Errorf("archive bucket is not configured")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if cfg.Region != "" {
		awsCfg.Region = cfg.Region
	}
	return NewRunArchiveWithClient(s3.NewFromConfig(awsCfg), cfg.BucketName, cfg.Prefix), nil
}

// NewRunArchiveWithClient creates an archive over an existing client
func NewRunArchiveWithClient(client S3API, bucket, prefix string) *RunArchive {
	return &RunArchive{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

// Upload copies every regular file of runDir and then the manifest
func (a *RunArchive) Upload(ctx context.Context, fs afero.Fs, runDir, runID string) (*ArchiveManifest, error) {
	entries, err := afero.ReadDir(fs, runDir)
	if err != nil {
		return nil, fmt.Errorf("read run directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	m := &ArchiveManifest{RunID: runID, Bucket: a.bucket}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := afero.ReadFile(fs, filepath.Join(runDir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		digest := Digest(data)
		key := a.key(runID, e.Name())
		if _, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType(e.Name())),
			Metadata:    map[string]string{"run-id": runID, "blake3": digest},
		}); err != nil {
			return nil, fmt.Errorf("upload %s: %w", key, err)
		}
		m.Files = append(m.Files, ArchivedFile{Name: e.Name(), Key: key, Size: int64(len(data)), Digest: digest})
		app.GetLogger().Debug("archived %s (%d bytes)", key, len(data))
	}

	m.ArchivedAt = a.now().UTC()
	body, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if _, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.key(runID, ManifestName)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return nil, fmt.Errorf("upload manifest: %w", err)
	}
	return m, nil
}

// Manifest fetches the manifest of an archived run
func (a *RunArchive) Manifest(ctx context.Context, runID string) (*ArchiveManifest, error) {
	data, err := a.get(ctx, a.key(runID, ManifestName))
	if err != nil {
		return nil, err
	}
	var m ArchiveManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// Restore downloads an archived run into destDir and verifies each digest
func (a *RunArchive) Restore(ctx context.Context, fs afero.Fs, runID, destDir string) (*ArchiveManifest, error) {
	m, err := a.Manifest(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := fs.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", destDir, err)
	}
	for _, f := range m.Files {
		data, err := a.get(ctx, f.Key)
		if err != nil {
			return nil, err
		}
		if got := Digest(data); got != f.Digest {
			return nil, fmt.Errorf("digest mismatch for %s: manifest %s, object %s", f.Name, f.Digest, got)
		}
		if err := afero.WriteFile(fs, filepath.Join(destDir, f.Name), data, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.Name, err)
		}
	}
	return m, nil
}

// ListRuns returns archived run ids
func (a *RunArchive) ListRuns(ctx context.Context) ([]string, error) {
	prefix := a.join("runs") + "/"
	out, err := a.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	var ids []string
	for _, obj := range out.Contents {
		rest := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
		id, name, ok := strings.Cut(rest, "/")
		if ok && name == ManifestName {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (a *RunArchive) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", key, err)
	}
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (a *RunArchive) key(runID, name string) string {
	return a.join("runs", runID, name)
}

func (a *RunArchive) join(parts ...string) string {
	if a.prefix != "" {
		parts = append([]string{a.prefix}, parts...)
	}
	return path.Join(parts...)
}

// Digest returns the hex BLAKE3-256 of data
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".ndjson":
		return "application/x-ndjson"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

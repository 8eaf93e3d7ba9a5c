package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// MockS3Client keeps objects in memory and mimics the S3 calls the archive makes
type MockS3Client struct {
	mu      sync.RWMutex
	objects map[string]mockObject
	failPut error
}

type mockObject struct {
	content  []byte
	metadata map[string]string
}

// NewMockS3Client creates an empty mock bucket
func NewMockS3Client() *MockS3Client {
	return &MockS3Client{objects: make(map[string]mockObject)}
}

// FailPuts makes every subsequent PutObject return err
func (m *MockS3Client) FailPuts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPut = err
}

// PutObject stores the body under bucket/key
func (m *MockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return nil, m.failPut
	}
	content, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	m.objects[objectID(params.Bucket, params.Key)] = mockObject{content: content, metadata: params.Metadata}
	return &s3.PutObjectOutput{}, nil
}

// GetObject returns a stored object or NoSuchKey
func (m *MockS3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[objectID(params.Bucket, params.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key: " + aws.ToString(params.Key))}
	}
	return &s3.GetObjectOutput{
		Body:     io.NopCloser(bytes.NewReader(obj.content)),
		Metadata: obj.metadata,
	}, nil
}

// ListObjectsV2 lists keys under the prefix in lexical order, without pagination
func (m *MockS3Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket := aws.ToString(params.Bucket) + "/"
	prefix := bucket + aws.ToString(params.Prefix)
	var keys []string
	for id := range m.objects {
		if strings.HasPrefix(id, prefix) {
			keys = append(keys, strings.TrimPrefix(id, bucket))
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

// ObjectCount returns the number of stored objects
func (m *MockS3Client) ObjectCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Object returns a stored object's content and metadata
func (m *MockS3Client) Object(bucket, key string) ([]byte, map[string]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[bucket+"/"+key]
	return obj.content, obj.metadata, ok
}

func objectID(bucket, key *string) string {
	return aws.ToString(bucket) + "/" + aws.ToString(key)
}

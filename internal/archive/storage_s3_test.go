package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// mockS3Client implements S3API for testing.
type mockS3Client struct {
	objects map[string][]byte
	putErr  error
	getErr  error
}

func newMockS3Client() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, fmt.Errorf("NoSuchKey: %s", *input.Key)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3StoreSaveGetDelete(t *testing.T) {
	mock := newMockS3Client()
	store := NewS3StoreWithClient(mock, "test-bucket", "audit/")

	content := `{"entries":[]}`
	storagePath, err := store.Save("audit-20260301-120000", strings.NewReader(content))
	if err != nil {
		t.Fatalf("Save() returned error: %v", err)
	}

	now := time.Now()
	wantKey := fmt.Sprintf("audit/%d/%02d/audit-20260301-120000.json", now.Year(), now.Month())
	if storagePath != wantKey {
		t.Errorf("storage path = %q, want %q", storagePath, wantKey)
	}

	reader, err := store.Get(storagePath)
	if err != nil {
		t.Fatalf("Get() returned error: %v", err)
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		t.Fatalf("failed to read snapshot: %v", err)
	}
	if string(data) != content {
		t.Errorf("content = %q", data)
	}

	if err := store.Delete(storagePath); err != nil {
		t.Fatalf("Delete() returned error: %v", err)
	}
	if _, err := store.Get(storagePath); err == nil {
		t.Error("Get() after Delete() succeeded")
	}
}

func TestS3StoreSaveError(t *testing.T) {
	mock := newMockS3Client()
	mock.putErr = errors.New("access denied")
	store := NewS3StoreWithClient(mock, "test-bucket", "audit/")

	if _, err := store.Save("snap", strings.NewReader("{}")); err == nil {
		t.Error("Save() succeeded despite PutObject error")
	}
}

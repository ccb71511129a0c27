package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/ignite/lead-consolidator/internal/config"
)

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestLocalStore_WriteAndOpen(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "output/rejected.log", []byte("first"), "text/plain"))
	require.NoError(t, s.Write(ctx, "output/rejected.log", []byte("second"), "text/plain"))

	rc, err := s.Open(ctx, "output/rejected.log")
	require.NoError(t, err)
	assert.Equal(t, "second", readAll(t, rc))

	entries, err := os.ReadDir(filepath.Join(root, "output"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files may be left behind")
	assert.Equal(t, "rejected.log", entries[0].Name())

	assert.Equal(t, "file://"+filepath.ToSlash(filepath.Join(root, "output", "rejected.log")), s.URI("output/rejected.log"))
}

func TestLocalStore_NotFound(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Open(context.Background(), "missing.csv")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	assert.Error(t, s.Write(ctx, "../outside.txt", []byte("x"), ""))
	_, err = s.Open(ctx, "../../etc/passwd")
	assert.Error(t, err)
	assert.Error(t, s.Write(ctx, "", []byte("x"), ""))

	// A ".." that stays inside the root is fine.
	require.NoError(t, s.Write(ctx, "a/../b.txt", []byte("ok"), ""))
	rc, err := s.Open(ctx, "b.txt")
	require.NoError(t, err)
	assert.Equal(t, "ok", readAll(t, rc))
}

type fakeS3 struct {
	objects     map[string][]byte
	types       map[string]string
	copySources []string
	putErr      error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	data, ok := f.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = data
	f.types[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	source := aws.ToString(in.CopySource)
	f.copySources = append(f.copySources, source)
	from, err := url.PathUnescape(source)
	if err != nil {
		return nil, err
	}
	data, ok := f.objects[from]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	to := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[to] = data
	f.types[to] = f.types[from]
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	delete(f.objects, key)
	delete(f.types, key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store(t *testing.T) {
	fake := newFakeS3()
	s := NewS3Store(fake, "crm-exports", "/daily/")
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "output/customers.parquet", []byte("PAR1"), "application/vnd.apache.parquet"))
	assert.Equal(t, []byte("PAR1"), fake.objects["crm-exports/daily/output/customers.parquet"])
	assert.Equal(t, "application/vnd.apache.parquet", fake.types["crm-exports/daily/output/customers.parquet"])

	rc, err := s.Open(ctx, "output/customers.parquet")
	require.NoError(t, err)
	assert.Equal(t, "PAR1", readAll(t, rc))

	_, err = s.Open(ctx, "leads.csv")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, "s3://crm-exports/daily/leads.csv", s.URI("leads.csv"))
}

func TestLocalStore_RenameAndDelete(t *testing.T) {
	root := t.TempDir()
	s, err := NewLocalStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "output/customers.parquet", []byte("old"), ""))
	require.NoError(t, s.Write(ctx, "output/customers.parquet.staging-r1", []byte("new"), ""))
	require.NoError(t, s.Rename(ctx, "output/customers.parquet.staging-r1", "output/customers.parquet"))

	rc, err := s.Open(ctx, "output/customers.parquet")
	require.NoError(t, err)
	assert.Equal(t, "new", readAll(t, rc))

	_, err = s.Open(ctx, "output/customers.parquet.staging-r1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Rename(ctx, "output/gone", "output/customers.parquet"), ErrNotFound)

	require.NoError(t, s.Delete(ctx, "output/customers.parquet"))
	require.NoError(t, s.Delete(ctx, "output/customers.parquet"), "deleting twice is fine")
	entries, err := os.ReadDir(filepath.Join(root, "output"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestS3Store_RenameAndDelete(t *testing.T) {
	fake := newFakeS3()
	s := NewS3Store(fake, "crm-exports", "daily")
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "out/rejected log.txt.staging", []byte("x|y"), "text/plain"))
	require.NoError(t, s.Rename(ctx, "out/rejected log.txt.staging", "out/rejected log.txt"))

	assert.Equal(t, []byte("x|y"), fake.objects["crm-exports/daily/out/rejected log.txt"])
	assert.Equal(t, "text/plain", fake.types["crm-exports/daily/out/rejected log.txt"])
	assert.NotContains(t, fake.objects, "crm-exports/daily/out/rejected log.txt.staging")
	assert.Equal(t, "crm-exports/daily/out/rejected%20log.txt.staging", fake.copySources[0])

	assert.ErrorIs(t, s.Rename(ctx, "out/missing", "out/other"), ErrNotFound)

	require.NoError(t, s.Delete(ctx, "out/rejected log.txt"))
	assert.Empty(t, fake.objects)
}

func TestS3Store_PutFailure(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("access denied")
	s := NewS3Store(fake, "crm-exports", "")

	err := s.Write(context.Background(), "out.log", []byte("x"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3://crm-exports/out.log")
}

func TestNew_Local(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested")
	s, err := New(context.Background(), appconfig.StorageConfig{Type: "local", LocalPath: root})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)

	_, err = os.Stat(root)
	assert.NoError(t, err)

	_, err = New(context.Background(), appconfig.StorageConfig{Type: "ftp"})
	assert.ErrorIs(t, err, appconfig.ErrUnknownStorageType)
}

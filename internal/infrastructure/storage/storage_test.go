package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/erp/invoicing/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewS3Store_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.StorageConfig
		want string
	}{
		{"nil config", nil, "configuration is required"},
		{"missing bucket", &config.StorageConfig{AccessKey: "k", SecretKey: "s"}, "bucket is required"},
		{"missing access key", &config.StorageConfig{Bucket: "b", SecretKey: "s"}, "access key is required"},
		{"missing secret key", &config.StorageConfig{Bucket: "b", AccessKey: "k"}, "secret key is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewS3Store(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	got, err := normalizeEndpoint("minio:9000", false)
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000", got)

	got, err = normalizeEndpoint("s3.example.com", true)
	require.NoError(t, err)
	assert.Equal(t, "https://s3.example.com", got)

	got, err = normalizeEndpoint("", false)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", got)
}

// fakeS3 answers path-style PUT, GET and HEAD object requests from memory
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		f.types[r.URL.Path] = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		if _, ok := f.objects[r.URL.Path]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[r.URL.Path]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		_, _ = w.Write(body)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeS3Store(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewS3Store(&config.StorageConfig{
		Endpoint:     srv.URL,
		Bucket:       "invoices",
		AccessKey:    "test",
		SecretKey:    "secret",
		UsePathStyle: true,
	}, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return store, fake
}

func TestS3Store_UploadDownloadExists(t *testing.T) {
	store, fake := newFakeS3Store(t)
	ctx := context.Background()

	require.NoError(t, store.Upload(ctx, "invoices/t1/1000/v1.json", []byte(`{"n":"1000"}`), "application/json"))
	assert.Equal(t, []byte(`{"n":"1000"}`), fake.objects["/invoices/invoices/t1/1000/v1.json"])
	assert.Equal(t, "application/json", fake.types["/invoices/invoices/t1/1000/v1.json"])

	data, err := store.Download(ctx, "invoices/t1/1000/v1.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":"1000"}`, string(data))

	ok, err := store.Exists(ctx, "invoices/t1/1000/v1.json")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, "invoices/t1/1001/v1.json")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Download(ctx, "invoices/t1/1001/v1.json")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	assert.Error(t, store.Upload(ctx, "", nil, "text/plain"))
}

func TestS3Store_DownloadURL(t *testing.T) {
	store, _ := newFakeS3Store(t)
	link, expires, err := store.DownloadURL(context.Background(), "invoices/t1/1000/v1.json", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, link, "/invoices/invoices/t1/1000/v1.json")
	assert.Contains(t, link, "X-Amz-Signature=")
	assert.WithinDuration(t, time.Now().Add(time.Minute), expires, 5*time.Second)

	_, _, err = store.DownloadURL(context.Background(), "", 0)
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	payload := []byte("abc")

	require.NoError(t, store.Upload(ctx, "backup/t1/b.json", payload, "application/json"))
	require.NoError(t, store.Upload(ctx, "backup/t1/a.json", []byte("x"), "application/json"))
	require.NoError(t, store.Upload(ctx, "invoices/t1/1000/v1.json", []byte("y"), "application/json"))
	payload[0] = 'z'

	obj, err := store.Get("backup/t1/b.json")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(obj.Data), "stored bytes are a copy")
	assert.Equal(t, []string{"backup/t1/a.json", "backup/t1/b.json"}, store.Keys("backup/"))

	_, err = store.Get("nope")
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.Error(t, store.Upload(ctx, "", nil, ""))
}

func TestNewObjectStore(t *testing.T) {
	store, err := NewObjectStore(&config.StorageConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = NewObjectStore(&config.StorageConfig{
		Enabled: true, Bucket: "b", AccessKey: "k", SecretKey: "s", Endpoint: "localhost:9000",
	}, nil)
	require.NoError(t, err)
	s3store, ok := store.(*S3Store)
	require.True(t, ok)
	assert.Equal(t, "b", s3store.Bucket())
	assert.True(t, strings.HasPrefix(s3store.presignExpiration.String(), "15m"))
}

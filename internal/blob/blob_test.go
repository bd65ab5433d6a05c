package blob

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 answers the HEAD/GET/PUT/DELETE object calls of a path-style
// bucket from memory
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

type fakeObject struct {
	body        []byte
	contentType string
	metadata    http.Header
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	switch req.Method {
	case http.MethodHead, http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, nil, http.Header{}), nil
		}
		header := http.Header{
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Content-Type":   {obj.contentType},
			"Etag":           {`"etag-` + key + `"`},
			"Last-Modified":  {time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat)},
		}
		for k, v := range obj.metadata {
			header[k] = v
		}
		if req.Method == http.MethodHead {
			return respond(http.StatusOK, nil, header), nil
		}
		return respond(http.StatusOK, obj.body, header), nil

	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			body = decodeChunked(body)
		}
		md := http.Header{}
		for k, v := range req.Header {
			if strings.HasPrefix(k, "X-Amz-Meta-") {
				md[k] = v
			}
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type"), metadata: md}
		return respond(http.StatusOK, nil, http.Header{"Etag": {`"etag"`}}), nil

	case http.MethodDelete:
		delete(f.objects, key)
		return respond(http.StatusNoContent, nil, http.Header{}), nil
	}
	return respond(http.StatusNotImplemented, nil, http.Header{}), nil
}

func respond(status int, body []byte, header http.Header) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Body:          io.NopCloser(bytes.NewReader(body)),
		Header:        header,
		ContentLength: int64(len(body)),
	}
}

// decodeChunked strips aws-chunked framing: "<hex>[;ext]\r\n<data>\r\n"
// repeated until a zero sized chunk, followed by trailers
func decodeChunked(b []byte) []byte {
	r := bufio.NewReader(bytes.NewReader(b))
	var out []byte
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return out
		}
		sizeHex := strings.TrimSpace(strings.SplitN(line, ";", 2)[0])
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil || size == 0 {
			return out
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return out
		}
		out = append(out, chunk...)
		_, _ = r.ReadString('\n')
	}
}

func newFakeS3Store(t *testing.T) (*S3Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string]fakeObject)}
	store, err := NewS3(context.Background(), S3Config{
		Bucket:          "attachments",
		Region:          "us-east-1",
		Endpoint:        "https://s3.test.local",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		HTTPClient:      &http.Client{Transport: fake},
	})
	require.NoError(t, err)
	return store, fake
}

func newFilesystemStore(t *testing.T) *FilesystemStore {
	t.Helper()
	store, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	return store
}

// exerciseStore runs the behaviour every driver shares
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	opts := PutOptions{ContentType: "image/jpeg", Metadata: map[string]string{"owner": "photo-1"}}

	info, err := store.Put(ctx, "photos/a.jpg", strings.NewReader("jpeg-bytes"), opts)
	require.NoError(t, err)
	assert.Equal(t, "photos/a.jpg", info.Key)
	assert.Equal(t, int64(10), info.Size)
	assert.Equal(t, "image/jpeg", info.ContentType)

	_, err = store.Put(ctx, "photos/a.jpg", strings.NewReader("other"), PutOptions{})
	assert.ErrorIs(t, err, ErrExists)

	head, err := store.Head(ctx, "photos/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, "photo-1", head.Metadata["owner"])

	got, rc, err := store.Get(ctx, "photos/a.jpg")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "jpeg-bytes", string(body))
	assert.Equal(t, "image/jpeg", got.ContentType)

	_, err = store.Head(ctx, "photos/missing.jpg")
	assert.True(t, IsNotFound(err))
	_, _, err = store.Get(ctx, "photos/missing.jpg")
	assert.True(t, IsNotFound(err))

	deleted, err := store.Delete(ctx, "photos/a.jpg")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(ctx, "photos/a.jpg")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestFilesystemStore(t *testing.T) {
	exerciseStore(t, newFilesystemStore(t))
}

func TestS3Store(t *testing.T) {
	store, _ := newFakeS3Store(t)
	exerciseStore(t, store)
}

func TestMemoryStore_Keys(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	for _, key := range []string{"b", "a", "c"} {
		_, err := store.Put(ctx, key, strings.NewReader(key), PutOptions{})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, store.Keys())
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	_, err := store.Put(ctx, "k", strings.NewReader("v"), PutOptions{Metadata: map[string]string{"a": "1"}})
	require.NoError(t, err)

	info, _, err := store.Get(ctx, "k")
	require.NoError(t, err)
	info.Metadata["a"] = "2"

	head, err := store.Head(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "1", head.Metadata["a"])
}

func TestFilesystemStore_ETagAndSidecar(t *testing.T) {
	store := newFilesystemStore(t)

	info, err := store.Put(context.Background(), "docs/readme.txt", strings.NewReader("hello"), PutOptions{ContentType: "text/plain"})
	require.NoError(t, err)
	// sha256("hello")
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", info.ETag)

	data, err := os.ReadFile(filepath.Join(store.Root(), "docs", "readme.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.FileExists(t, filepath.Join(store.Root(), "docs", "readme.txt.meta"))
}

func TestFilesystemStore_ConcurrentPutsCreateOnce(t *testing.T) {
	store := newFilesystemStore(t)
	ctx := context.Background()

	const writers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		losers  int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf("writer %d", i)
			_, err := store.Put(ctx, "race/key.txt", strings.NewReader(body), PutOptions{})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners = append(winners, body)
				return
			}
			assert.ErrorIs(t, err, ErrExists)
			losers++
		}(i)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	assert.Equal(t, writers-1, losers)

	data, err := os.ReadFile(filepath.Join(store.Root(), "race", "key.txt"))
	require.NoError(t, err)
	assert.Equal(t, winners[0], string(data))

	leftovers, err := filepath.Glob(filepath.Join(store.Root(), "race", ".tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFilesystemStore_RejectsEscapingKeys(t *testing.T) {
	store := newFilesystemStore(t)
	ctx := context.Background()

	for _, key := range []string{"", "  ", "/etc/passwd", "../outside", "a/../../b"} {
		t.Run(fmt.Sprintf("%q", key), func(t *testing.T) {
			_, err := store.Put(ctx, key, strings.NewReader("x"), PutOptions{})
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestS3Store_StoresContentType(t *testing.T) {
	store, fake := newFakeS3Store(t)

	_, err := store.Put(context.Background(), "photos/b.png", bytes.NewReader([]byte("png")), PutOptions{ContentType: "image/png"})
	require.NoError(t, err)

	obj, ok := fake.objects["photos/b.png"]
	require.True(t, ok)
	assert.Equal(t, "png", string(obj.body))
	assert.Equal(t, "image/png", obj.contentType)
	assert.Equal(t, "attachments", store.Bucket())
}

func TestNewS3_RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), S3Config{})
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, Config{Driver: DriverMemory})
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, store.Driver())

	store, err = Open(ctx, Config{Root: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, store.Driver())

	store, err = Open(ctx, Config{Driver: DriverS3, S3: S3Config{Bucket: "b", AccessKeyID: "AKIA", SecretAccessKey: "SECRET"}})
	require.NoError(t, err)
	assert.Equal(t, DriverS3, store.Driver())

	_, err = Open(ctx, Config{Driver: "ftp"})
	assert.Error(t, err)
}

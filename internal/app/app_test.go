package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/conduit-lang/cloner/internal/blob"
	"github.com/conduit-lang/cloner/internal/cli/config"
	"github.com/conduit-lang/cloner/internal/events"
	"github.com/conduit-lang/cloner/internal/orm/record"
	"github.com/conduit-lang/cloner/internal/service"
)

const photoSchema = `
resources:
  - name: Album
    fields:
      id: {type: uuid, annotations: [primary, auto]}
      title: {type: string}
    relationships:
      photos: {type: has_many, target: Photo}
    clone:
      exempt: [title]
      relations: [photos]
  - name: Photo
    fields:
      id: {type: uuid, annotations: [primary, auto]}
      album_id: {type: uuid}
      image: {type: string, nullable: true}
    clone:
      files: [image]
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	schemaFile := filepath.Join(dir, "schema.yml")
	require.NoError(t, os.WriteFile(schemaFile, []byte(photoSchema), 0o644))

	return &config.Config{
		SchemaFile:       schemaFile,
		DefaultDatastore: "primary",
		Datastores: map[string]config.DatastoreConfig{
			"primary": {Driver: "memory"},
			"archive": {Driver: "memory"},
		},
		Attachments: config.AttachmentsConfig{Driver: "memory", Prefix: "copies"},
		Events:      config.EventsConfig{Workers: 2, Redis: config.RedisConfig{Channel: events.DefaultRedisChannel}},
		Atomic:      config.AtomicConfig{MaxRetries: 2, BaseBackoff: time.Millisecond},
		Server:      config.ServerConfig{Host: "127.0.0.1", Port: 8080},
	}
}

func seed(t *testing.T, a *App) {
	t.Helper()
	ctx := context.Background()
	store, ok := a.Datastores.Memory("primary")
	require.True(t, ok)

	albumRes, _ := a.Registry.Get("Album")
	photoRes, _ := a.Registry.Get("Photo")

	album := record.New(albumRes)
	album.Set("id", "album-1")
	album.Set("title", "Holidays")
	require.NoError(t, store.Insert(ctx, album))

	photo := record.New(photoRes)
	photo.Set("album_id", "album-1")
	photo.Set("image", "uploads/beach.jpg")
	require.NoError(t, store.Insert(ctx, photo))

	_, err := a.Blobs.Put(ctx, "uploads/beach.jpg", strings.NewReader("jpeg"), blob.PutOptions{ContentType: "image/jpeg"})
	require.NoError(t, err)
}

func TestNew(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer a.Close()
	seed(t, a)

	ctx := context.Background()
	clone, err := a.Duplicator.Duplicate(ctx, service.Request{Resource: "Album", ID: "album-1", To: "archive"})
	require.NoError(t, err)
	assert.Nil(t, clone.Get("title"))

	archive, _ := a.Datastores.Memory("archive")
	photos, err := archive.Related(ctx, clone, clone.Resource.Relationships["photos"])
	require.NoError(t, err)
	require.Len(t, photos, 1)

	key, _ := photos[0].Get("image").(string)
	assert.True(t, strings.HasPrefix(key, "copies/photo/"), key)
	assert.True(t, strings.HasSuffix(key, "/beach.jpg"), key)
	info, err := a.Blobs.Head(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", info.ContentType)
}

func TestNew_Handler(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()
	seed(t, a)

	handler := a.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/resources/Album/album-1/duplicate", nil))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Album", body["resource"])
	assert.NotEqual(t, "album-1", body["id"])

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	metricsBody, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(metricsBody), `cloner_records_cloned_total{resource="Photo"} 1`)
	assert.Contains(t, string(metricsBody), "go_goroutines")
}

func TestNew_RedisFanOut(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	cfg := testConfig(t)
	cfg.Events.Redis.Addr = mr.Addr()

	ctx := context.Background()
	subscriber := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer subscriber.Close()
	sub := subscriber.Subscribe(ctx, events.DefaultRedisChannel)
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	a, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	seed(t, a)

	_, err = a.Duplicator.Duplicate(ctx, service.Request{Resource: "Album", ID: "album-1"})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	var names []string
	for len(names) < 4 {
		select {
		case msg := <-sub.Channel():
			var m events.Message
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &m))
			names = append(names, m.Event)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of 4 events: %v", len(names), names)
		}
	}
	assert.ElementsMatch(t, []string{"cloning: Album", "cloning: Photo", "cloned: Photo", "cloned: Album"}, names)
}

func TestNew_Auth(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Auth = config.AuthConfig{Secret: "test-secret", TokenTTL: time.Minute}

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	seed(t, a)
	require.NotNil(t, a.Auth)

	handler := a.Handler()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/resources/Album/album-1/duplicate", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := a.Auth.Issue("ci")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/resources/Album/album-1/duplicate", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestNew_EventStream(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()
	seed(t, a)

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events?resource=Album"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return a.Stream.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	_, err = a.Duplicator.Duplicate(context.Background(), service.Request{Resource: "Album", ID: "album-1"})
	require.NoError(t, err)

	var names []string
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for len(names) < 2 {
		var m events.Message
		require.NoError(t, conn.ReadJSON(&m))
		assert.Equal(t, "Album", m.Resource)
		assert.Equal(t, "album-1", m.SourceID)
		names = append(names, m.Event)
	}
	assert.ElementsMatch(t, []string{"cloning: Album", "cloned: Album"}, names)
}

func TestNew_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.SchemaFile = filepath.Join(t.TempDir(), "missing.yml")
	_, err := New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "failed to read schema file")

	cfg = testConfig(t)
	cfg.Events.Redis.Addr = "127.0.0.1:1"
	_, err = New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"

	"mealcore/internal/blob/core"
)

// fakeS3 answers the small subset of the S3 REST API the store uses.
type fakeS3 struct {
	mu    sync.Mutex
	state map[string]stored
}

type stored struct {
	body        []byte
	contentType string
}

func (m *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range m.state {
			if strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2026-01-01T00:00:00Z</LastModified></Contents>", k, len(m.state[k].body))
		}
		b.WriteString("</ListBucketResult>")
		return respond(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}}), nil
	}
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		st, ok := m.state[key]
		if !ok {
			return respond(http.StatusNotFound, nil, http.Header{}), nil
		}
		h := http.Header{
			"Content-Length": {strconv.Itoa(len(st.body))},
			"Content-Type":   {st.contentType},
			"Etag":           {`"etag123"`},
			"Last-Modified":  {time.Now().UTC().Format(http.TimeFormat)},
		}
		if req.Method == http.MethodHead {
			return respond(http.StatusOK, nil, h), nil
		}
		return respond(http.StatusOK, st.body, h), nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		m.state[key] = stored{body: body, contentType: req.Header.Get("Content-Type")}
		return respond(http.StatusOK, nil, http.Header{"Etag": {`"etag123"`}}), nil
	case http.MethodDelete:
		delete(m.state, key)
		return respond(http.StatusNoContent, nil, http.Header{}), nil
	}
	return respond(http.StatusNotImplemented, nil, http.Header{}), nil
}

func respond(status int, body []byte, h http.Header) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: h, ContentLength: int64(len(body))}
}

// decodeChunked unwraps an aws-chunked body with a single data chunk.
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	n, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil || n <= 0 || int64(len(parts[1])) != n || parts[2] != "0" {
		return nil, false
	}
	return []byte(parts[1]), true
}

func newFakeStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	cfg.Bucket = "images"
	cfg.Region = "us-east-1"
	cfg.Endpoint = "https://mock.s3.local"
	cfg.PathStyle = true
	cfg.AccessKeyID = "AKIA"
	cfg.SecretAccessKey = "SECRET"
	cfg.HTTPClient = &http.Client{Transport: &fakeS3{state: make(map[string]stored)}}
	s, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return s
}

func TestS3StoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newFakeStore(t, Config{})
	if s.Driver() != core.DriverS3 {
		t.Fatalf("expected s3 driver")
	}
	info, err := s.Put(ctx, "ingredients/i1/apple.png", bytes.NewReader([]byte("hello")), core.PutOptions{ContentType: "image/png"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "ingredients/i1/apple.png" || info.ContentType != "image/png" || info.ETag != "etag123" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := s.Put(ctx, "ingredients/i1/apple.png", bytes.NewReader([]byte("again")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	_, rc, err := s.Get(ctx, "ingredients/i1/apple.png")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "hello" {
		t.Fatalf("get mismatch: %q", data)
	}
	list, err := s.List(ctx, "ingredients/")
	if err != nil || len(list) != 1 {
		t.Fatalf("list: %v %+v", err, list)
	}
	u, err := s.URL(ctx, "ingredients/i1/apple.png")
	if err != nil || !strings.Contains(u, "X-Amz-Signature") {
		t.Fatalf("presigned url: %v %s", err, u)
	}
	if ok, err := s.Delete(ctx, "ingredients/i1/apple.png"); err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	if ok, err := s.Delete(ctx, "ingredients/i1/apple.png"); err != nil || ok {
		t.Fatalf("second delete: %v %v", ok, err)
	}
	if _, err := s.Head(ctx, "ingredients/i1/apple.png"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestS3StorePublicBaseURL(t *testing.T) {
	s := newFakeStore(t, Config{PublicBaseURL: "https://cdn.example.com/img/"})
	u, err := s.URL(context.Background(), "ingredients/i1/apple.png")
	if err != nil || u != "https://cdn.example.com/img/ingredients/i1/apple.png" {
		t.Fatalf("public url: %v %s", err, u)
	}
}

func TestS3StoreRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for missing bucket")
	}
}

func TestFromHeadNilBranches(t *testing.T) {
	s := newFakeStore(t, Config{})
	info := s.fromHead("k", 10, nil, aws.String(`"etagval"`), map[string]string{"x": "y"}, nil)
	if info.ETag != "etagval" || info.ContentType != "" || info.Size != 10 || info.LastModified.IsZero() {
		t.Fatalf("unexpected info: %+v", info)
	}
}

package cloudinary

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"studx/internal/objectstore"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New("demo", "key", "secret", "studx/")
	c.APIBase = srv.URL
	return c
}

func TestUpload_SendsSignedNonOverwritingRequest(t *testing.T) {
	t.Parallel()

	var got map[string]string
	var fileBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1_1/demo/image/upload" {
			t.Errorf("path=%q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		got = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			got[k] = v[0]
		}
		f, _, _ := r.FormFile("file")
		b, _ := io.ReadAll(f)
		fileBody = string(b)
		w.Write([]byte(`{"public_id":"studx/student-photos/1-abc","secure_url":"https://x"}`))
	})

	err := c.Upload(context.Background(), "student-photos", "1-abc.png", []byte("png-bytes"), objectstore.UploadOptions{})
	if err != nil {
		t.Fatalf("Upload err=%v", err)
	}
	if got["overwrite"] != "false" || got["public_id"] != "1-abc" || got["folder"] != "studx/student-photos" {
		t.Fatalf("params=%v", got)
	}
	if got["api_key"] != "key" || got["signature"] == "" {
		t.Fatalf("missing auth params: %v", got)
	}
	want := c.sign(map[string]string{
		"timestamp": got["timestamp"],
		"public_id": got["public_id"],
		"folder":    got["folder"],
		"overwrite": got["overwrite"],
	})
	if got["signature"] != want {
		t.Fatalf("signature=%q want %q", got["signature"], want)
	}
	if fileBody != "png-bytes" {
		t.Fatalf("file=%q", fileBody)
	}
}

func TestUpload_ExistingAssetIsConflict(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"public_id":"x","existing":true}`))
	})
	err := c.Upload(context.Background(), "b", "x.jpg", []byte("x"), objectstore.UploadOptions{})
	if !errors.Is(err, objectstore.ErrObjectExists) {
		t.Fatalf("err=%v want ErrObjectExists", err)
	}
}

func TestUpload_ServerError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid Signature"}}`, http.StatusUnauthorized)
	})
	if err := c.Upload(context.Background(), "b", "x.jpg", []byte("x"), objectstore.UploadOptions{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPublicURL(t *testing.T) {
	t.Parallel()

	c := New("demo", "k", "s", "")
	want := "https://res.cloudinary.com/demo/image/upload/student-photos/1-abc.png"
	if got := c.PublicURL("student-photos", "1-abc.png"); got != want {
		t.Fatalf("got=%q want %q", got, want)
	}
}

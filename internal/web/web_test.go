package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"studx/internal/auth"
	"studx/internal/buspass"
	"studx/internal/objectstore"
)

func init() { gin.SetMode(gin.TestMode) }

type testServer struct {
	engine  *gin.Engine
	records *buspass.MemoryStore
	disk    *objectstore.Disk
}

func newTestServer(t *testing.T, origin string) *testServer {
	t.Helper()
	return newLimitedTestServer(t, origin, 0)
}

func newLimitedTestServer(t *testing.T, origin string, maxUpload int64) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	disk, err := objectstore.NewDisk(t.TempDir(), "/uploads")
	if err != nil {
		t.Fatalf("NewDisk err=%v", err)
	}
	records := buspass.NewMemoryStore()
	accounts := auth.NewAccounts(auth.NewMemoryStore(), auth.TokenConfig{
		Issuer:     "studx-test",
		SigningKey: "test-key",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}, logger)

	h := New(Deps{
		Accounts:       accounts,
		Gate:           auth.NewSessionGate("test-key", "studx-test", false, logger).WithRefresher(accounts),
		Submitter:      buspass.NewSubmitter(records, disk, buspass.SubmitterConfig{Bucket: "student-photos"}, logger),
		Resolver:       buspass.NewResolver(records, 0, logger),
		Dashboard:      buspass.NewDashboard(records, 0, logger),
		PublicOrigin:   origin,
		MaxUploadBytes: maxUpload,
		Uploads:        disk.Handler(),
		Logger:         logger,
	})
	r := gin.New()
	if err := h.Register(r); err != nil {
		t.Fatalf("Register err=%v", err)
	}
	return &testServer{engine: r, records: records, disk: disk}
}

func (s *testServer) do(req *http.Request, cookies []*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) register(t *testing.T, email string) []*http.Cookie {
	t.Helper()
	form := url.Values{"email": {email}, "password": {"secret123"}}
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := s.do(req, nil)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("register code=%d body=%s", w.Code, w.Body.String())
	}
	return w.Result().Cookies()
}

func applicationBody(t *testing.T, fields map[string]string, photo []byte) (*bytes.Buffer, string) {
	t.Helper()
	return applicationBodyNamed(t, fields, "me.png", photo)
}

func applicationBodyNamed(t *testing.T, fields map[string]string, filename string, photo []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if photo != nil {
		fw, err := mw.CreateFormFile("photo", filename)
		if err != nil {
			t.Fatalf("CreateFormFile err=%v", err)
		}
		_, _ = fw.Write(photo)
	}
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func completeFields() map[string]string {
	return map[string]string{
		"name": "Asha Rao", "regno": "R1", "college": "City College", "address": "12 Lake Road",
		"destination_from": "X", "destination_to": "Y",
	}
}

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

var inlineImage = regexp.MustCompile(`data:image/png;base64,[A-Za-z0-9+/=]+`)

func TestProtectedPagesRedirectToLogin(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "")

	for _, path := range []string{"/dashboard", "/application"} {
		w := s.do(httptest.NewRequest(http.MethodGet, path, nil), nil)
		if w.Code != http.StatusFound || w.Header().Get("Location") != "/login" {
			t.Fatalf("%s: code=%d location=%q", path, w.Code, w.Header().Get("Location"))
		}
	}

	bad := []*http.Cookie{{Name: auth.SessionCookie, Value: "garbage"}}
	w := s.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), bad)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/login" {
		t.Fatalf("corrupt cookie: code=%d", w.Code)
	}
	if !strings.Contains(strings.Join(w.Header().Values("Set-Cookie"), ";"), auth.SessionCookie+"=;") {
		t.Fatalf("corrupt cookie not cleared: %v", w.Header().Values("Set-Cookie"))
	}
}

func TestDashboardEmptyThenFound(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "https://studx.example")
	cookies := s.register(t, "asha@college.edu")

	w := s.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), cookies)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "No Application Found") {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}

	body, ct := applicationBody(t, completeFields(), pngBytes)
	req := httptest.NewRequest(http.MethodPost, "/application", body)
	req.Header.Set("Content-Type", ct)
	w = s.do(req, cookies)
	if w.Code != http.StatusSeeOther || !strings.HasPrefix(w.Header().Get("Location"), "/qr-scan?id=") {
		t.Fatalf("submit code=%d location=%q body=%s", w.Code, w.Header().Get("Location"), w.Body.String())
	}

	w = s.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), cookies)
	page := w.Body.String()
	if !strings.Contains(page, "Application Details") || !strings.Contains(page, "Asha Rao") || !strings.Contains(page, "APPROVED") {
		t.Fatalf("dashboard missing record: %s", page)
	}
}

func TestSubmitApplication_StoresPhotoAndRecord(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "https://studx.example")
	cookies := s.register(t, "asha@college.edu")

	body, ct := applicationBody(t, completeFields(), pngBytes)
	req := httptest.NewRequest(http.MethodPost, "/application", body)
	req.Header.Set("Content-Type", ct)
	w := s.do(req, cookies)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	id := strings.TrimPrefix(w.Header().Get("Location"), "/qr-scan?id=")

	rec, err := s.records.GetByID(req.Context(), id)
	if err != nil {
		t.Fatalf("GetByID err=%v", err)
	}
	if rec.Email != "asha@college.edu" || rec.ApplicationStatus != buspass.StatusApproved {
		t.Fatalf("rec=%+v", rec)
	}
	name := strings.TrimPrefix(rec.PhotoURL, "/uploads/student-photos/")
	if _, err := os.Stat(filepath.Join(s.disk.Root(), "student-photos", name)); err != nil {
		t.Fatalf("photo not stored at %s: %v", rec.PhotoURL, err)
	}
}

func TestSubmitApplication_MissingFieldsRerenders(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "")
	cookies := s.register(t, "asha@college.edu")

	fields := completeFields()
	fields["college"] = "  "
	body, ct := applicationBody(t, fields, pngBytes)
	req := httptest.NewRequest(http.MethodPost, "/application", body)
	req.Header.Set("Content-Type", ct)
	w := s.do(req, cookies)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("code=%d want 422", w.Code)
	}
	page := w.Body.String()
	if !strings.Contains(page, `value="Asha Rao"`) || !strings.Contains(page, "data:image/png;base64,") {
		t.Fatalf("form not re-rendered with values and preview: %s", page)
	}
	dash := s.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), cookies)
	if !strings.Contains(dash.Body.String(), "No Application Found") {
		t.Fatalf("record stored for invalid draft")
	}
	entries, _ := os.ReadDir(s.disk.Root())
	if len(entries) != 0 {
		t.Fatalf("photo uploaded for invalid draft: %v", entries)
	}
}

func TestSubmitApplication_MarkupUploadNotServedAsHTML(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "https://studx.example")
	cookies := s.register(t, "asha@college.edu")

	script := []byte("<script>alert(document.domain)</script>")
	body, ct := applicationBodyNamed(t, completeFields(), "evil.html", script)
	req := httptest.NewRequest(http.MethodPost, "/application", body)
	req.Header.Set("Content-Type", ct)
	w := s.do(req, cookies)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	id := strings.TrimPrefix(w.Header().Get("Location"), "/qr-scan?id=")
	rec, err := s.records.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID err=%v", err)
	}
	if strings.HasSuffix(rec.PhotoURL, ".html") || !strings.HasSuffix(rec.PhotoURL, ".bin") {
		t.Fatalf("photo_url=%q", rec.PhotoURL)
	}

	w = s.do(httptest.NewRequest(http.MethodGet, rec.PhotoURL, nil), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET photo code=%d", w.Code)
	}
	if got := w.Header().Get("Content-Type"); strings.Contains(got, "html") || got != "application/octet-stream" {
		t.Fatalf("content-type=%q", got)
	}
	if w.Header().Get("Content-Disposition") != "attachment" || !strings.HasPrefix(w.Header().Get("Content-Security-Policy"), "sandbox") {
		t.Fatalf("headers=%v", w.Header())
	}
}

func TestUploadsServeImages(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "")
	cookies := s.register(t, "asha@college.edu")

	body, ct := applicationBody(t, completeFields(), pngBytes)
	req := httptest.NewRequest(http.MethodPost, "/application", body)
	req.Header.Set("Content-Type", ct)
	w := s.do(req, cookies)
	id := strings.TrimPrefix(w.Header().Get("Location"), "/qr-scan?id=")
	rec, _ := s.records.GetByID(context.Background(), id)

	w = s.do(httptest.NewRequest(http.MethodGet, rec.PhotoURL, nil), nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" || !bytes.Equal(w.Body.Bytes(), pngBytes) {
		t.Fatalf("code=%d content-type=%q", w.Code, w.Header().Get("Content-Type"))
	}
}

func TestSubmitApplication_OversizedPhotoKeepsFields(t *testing.T) {
	t.Parallel()
	s := newLimitedTestServer(t, "", 1024)
	cookies := s.register(t, "asha@college.edu")

	photo := append(append([]byte{}, pngBytes...), make([]byte, 4096)...)
	body, ct := applicationBody(t, completeFields(), photo)
	req := httptest.NewRequest(http.MethodPost, "/application", body)
	req.Header.Set("Content-Type", ct)
	w := s.do(req, cookies)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("code=%d want 413", w.Code)
	}
	page := w.Body.String()
	for _, want := range []string{`value="Asha Rao"`, `value="12 Lake Road"`, "photo is too large"} {
		if !strings.Contains(page, want) {
			t.Fatalf("page missing %q: %s", want, page)
		}
	}
	entries, _ := os.ReadDir(s.disk.Root())
	if len(entries) != 0 {
		t.Fatalf("photo uploaded past the limit: %v", entries)
	}
}

func TestExpiredSessionRefreshesFromCookie(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "")
	var refresh []*http.Cookie
	for _, c := range s.register(t, "asha@college.edu") {
		if c.Name == auth.RefreshCookie {
			refresh = append(refresh, c)
		}
	}
	if len(refresh) != 1 {
		t.Fatalf("register set no refresh cookie")
	}

	w := s.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), refresh)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "No Application Found") {
		t.Fatalf("dashboard code=%d location=%q", w.Code, w.Header().Get("Location"))
	}
	renewed := map[string]string{}
	for _, c := range w.Result().Cookies() {
		renewed[c.Name] = c.Value
	}
	if renewed[auth.SessionCookie] == "" || renewed[auth.RefreshCookie] == "" || renewed[auth.RefreshCookie] == refresh[0].Value {
		t.Fatalf("cookies not renewed: %v", w.Header().Values("Set-Cookie"))
	}

	// The old refresh token was rotated out.
	w = s.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), refresh)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/login" {
		t.Fatalf("reused refresh: code=%d", w.Code)
	}
}

func TestQRScan(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "https://studx.example")

	w := s.do(httptest.NewRequest(http.MethodGet, "/qr-scan", nil), nil)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/dashboard" {
		t.Fatalf("missing id: code=%d location=%q", w.Code, w.Header().Get("Location"))
	}

	w = s.do(httptest.NewRequest(http.MethodGet, "/qr-scan?id=abc123", nil), nil)
	page := w.Body.String()
	if w.Code != http.StatusOK || !strings.Contains(page, "https://studx.example/pass/abc123") {
		t.Fatalf("code=%d body=%s", w.Code, page)
	}
	if !strings.Contains(page, `href="/pass/abc123"`) || !strings.Contains(page, "View Bus Pass") {
		t.Fatalf("missing pass link: %s", page)
	}
}

func TestPassPage(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "https://studx.example")
	rec, _ := s.records.Insert(context.Background(), buspass.Record{
		UserID: "u1", Name: "Asha Rao", Email: "a@b.edu", RegNo: "R1", College: "City",
		Address: "Lake Rd", DestinationFrom: "X", DestinationTo: "Y", QRCode: `{"id":"u1"}`,
		ApplicationStatus: buspass.StatusApproved,
	})

	w := s.do(httptest.NewRequest(http.MethodGet, "/pass/"+rec.ID, nil), nil)
	page := w.Body.String()
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d", w.Code)
	}
	for _, want := range []string{"Asha Rao", "X", "Y", "Valid for Academic Year 2025-26", "https://studx.example/pass/" + rec.ID} {
		if !strings.Contains(page, want) {
			t.Fatalf("page missing %q", want)
		}
	}
	if strings.Contains(inlineImage.ReplaceAllString(page, ""), "Via") {
		t.Fatalf("pass without waypoints shows Via")
	}

	again := s.do(httptest.NewRequest(http.MethodGet, "/pass/"+rec.ID, nil), nil)
	if again.Body.String() != page {
		t.Fatalf("repeated views differ")
	}

	w = s.do(httptest.NewRequest(http.MethodGet, "/pass/does-not-exist", nil), nil)
	if w.Code != http.StatusNotFound || !strings.Contains(w.Body.String(), "Pass Not Found") {
		t.Fatalf("unknown pass: code=%d", w.Code)
	}

	w = s.do(httptest.NewRequest(http.MethodGet, "/pass/"+rec.ID+"/qr.png", nil), nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" || !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("qr png: code=%d type=%q", w.Code, w.Header().Get("Content-Type"))
	}
}

func TestOriginFromRequest(t *testing.T) {
	t.Parallel()
	h := &Handler{}
	req := httptest.NewRequest(http.MethodGet, "/qr-scan?id=1", nil)
	req.Host = "portal.local:8081"
	if got := h.origin(req); got != "http://portal.local:8081" {
		t.Fatalf("origin=%q", got)
	}
	req.Header.Set("X-Forwarded-Proto", "https")
	if got := h.origin(req); got != "https://portal.local:8081" {
		t.Fatalf("origin=%q", got)
	}
	h.deps.PublicOrigin = "https://studx.example"
	if got := h.origin(req); got != "https://studx.example" {
		t.Fatalf("origin=%q", got)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "")
	cookies := s.register(t, "asha@college.edu")

	w := s.do(httptest.NewRequest(http.MethodPost, "/logout", nil), cookies)
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/" {
		t.Fatalf("code=%d", w.Code)
	}
	for _, c := range w.Result().Cookies() {
		if c.MaxAge >= 0 {
			t.Fatalf("cookie %s not expired", c.Name)
		}
	}
}

func TestAPI_SubmitAndRead(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "https://studx.example")

	signup := httptest.NewRequest(http.MethodPost, "/v1/auth/signup", strings.NewReader(`{"email":"api@college.edu","password":"secret123"}`))
	signup.Header.Set("Content-Type", "application/json")
	w := s.do(signup, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("signup code=%d body=%s", w.Code, w.Body.String())
	}
	var tokens struct {
		AccessToken string `json:"access_token"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &tokens)

	w = s.do(httptest.NewRequest(http.MethodGet, "/v1/applications/me", nil), nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous code=%d want 401", w.Code)
	}

	me := httptest.NewRequest(http.MethodGet, "/v1/applications/me", nil)
	me.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	if w = s.do(me, nil); w.Code != http.StatusNotFound {
		t.Fatalf("empty code=%d want 404", w.Code)
	}

	body, ct := applicationBody(t, completeFields(), nil)
	submit := httptest.NewRequest(http.MethodPost, "/v1/applications", body)
	submit.Header.Set("Content-Type", ct)
	submit.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	w = s.do(submit, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("submit code=%d body=%s", w.Code, w.Body.String())
	}
	var created struct {
		Pass      buspass.Record `json:"pass"`
		VerifyURL string         `json:"verify_url"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &created)
	if created.Pass.PhotoURL != "" || created.VerifyURL != "https://studx.example/pass/"+created.Pass.ID {
		t.Fatalf("created=%+v", created)
	}

	w = s.do(httptest.NewRequest(http.MethodGet, "/v1/passes/"+created.Pass.ID, nil), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pass code=%d", w.Code)
	}

	me = httptest.NewRequest(http.MethodGet, "/v1/applications/me", nil)
	me.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	if w = s.do(me, nil); w.Code != http.StatusOK {
		t.Fatalf("me code=%d", w.Code)
	}
}

func TestAPI_SubmitValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "")
	signup := httptest.NewRequest(http.MethodPost, "/v1/auth/signup", strings.NewReader(`{"email":"v@college.edu","password":"secret123"}`))
	signup.Header.Set("Content-Type", "application/json")
	var tokens struct {
		AccessToken string `json:"access_token"`
	}
	_ = json.Unmarshal(s.do(signup, nil).Body.Bytes(), &tokens)

	fields := completeFields()
	delete(fields, "destination_to")
	body, ct := applicationBody(t, fields, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/applications", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
	w := s.do(req, nil)
	if w.Code != http.StatusUnprocessableEntity || !strings.Contains(w.Body.String(), "destination_to") {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
}

func TestAPI_LoginRejectsBadPassword(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, "")
	s.register(t, "asha@college.edu")

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", strings.NewReader(`{"email":"asha@college.edu","password":"wrong-one"}`))
	req.Header.Set("Content-Type", "application/json")
	if w := s.do(req, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("code=%d want 401", w.Code)
	}
}

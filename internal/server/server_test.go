package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/umutdz/dca/internal/service"
	"github.com/umutdz/dca/pkg/auth"
	"github.com/umutdz/dca/pkg/cache"
	"github.com/umutdz/dca/pkg/domain"
	"github.com/umutdz/dca/pkg/pdftext"
	"github.com/umutdz/dca/pkg/repo"
	"github.com/umutdz/dca/pkg/storage"
)

type echoGenerator struct{}

func (echoGenerator) GenerateText(_ context.Context, _ string, userPrompt string) (string, error) {
	return "echo: " + userPrompt[strings.LastIndex(userPrompt, ":")+1:], nil
}

// splitPages treats uploads as newline-separated page text so handler tests
// do not need real PDF binaries.
func splitPages(data []byte) ([]string, error) {
	return strings.Split(string(data), "\n"), nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tokens, err := auth.NewTokenManager("test-secret", time.Minute)
	if err != nil {
		t.Fatalf("new token manager: %v", err)
	}
	users := repo.NewUserRepository(repo.NewMemoryRepository(repo.UsersEntity()))
	pdfRepo := repo.NewPDFRepository(
		repo.NewMemoryRepository(repo.PDFEntity()),
		repo.NewMemoryRepository(repo.SelectedPDFEntity()),
	)
	history := repo.NewChatHistoryRepository(repo.NewMemoryRepository(repo.ChatEntity()))

	authSvc := service.NewAuthService(users, tokens)
	pdfSvc := service.NewPDFService(pdfRepo, storage.NewMemoryBlobStore(), splitPages, pdftext.Join)
	chatSvc := service.NewChatService(pdfSvc, history, echoGenerator{}, cache.New(client, "chat", time.Minute), "test-model")

	srv := httptest.NewServer(New(Config{
		Auth: authSvc,
		PDFs: pdfSvc,
		Chat: chatSvc,
	}).Router())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func registerAndLogin(t *testing.T, srv *httptest.Server, email string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/register", "", map[string]string{
		"email": email, "password": "pw",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: status %d body %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/login", "", map[string]string{
		"email": email, "password": "pw",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d body %s", resp.StatusCode, body)
	}
	var pair domain.TokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		t.Fatalf("decode token pair: %v", err)
	}
	return pair.AccessToken
}

func uploadPDF(t *testing.T, srv *httptest.Server, token, title, filename, content string) domain.PDFMetadata {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if title != "" {
		_ = mw.WriteField("title", title)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write([]byte(content))
	_ = mw.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/pdf/upload", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	var meta domain.PDFMetadata
	if resp.StatusCode != http.StatusCreated {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		t.Fatalf("upload: status %d body %s", resp.StatusCode, buf.String())
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	return meta
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d body %s", resp.StatusCode, body)
	}
}

func TestAuthFlow(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "a@example.com")

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/auth/me", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: status %d body %s", resp.StatusCode, body)
	}
	var me domain.PublicUser
	if err := json.Unmarshal(body, &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.Email != "a@example.com" || !me.IsActive {
		t.Fatalf("unexpected me: %+v", me)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{
		"/api/v1/auth/me",
		"/api/v1/pdf/list",
		"/api/v1/pdf/selected",
		"/api/v1/chat/history",
	} {
		resp, body := doJSON(t, http.MethodGet, srv.URL+path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: status %d body %s", path, resp.StatusCode, body)
		}
	}
}

func TestErrorBodyShape(t *testing.T) {
	srv := newTestServer(t)
	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/auth/me", "garbage", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d body %s", resp.StatusCode, body)
	}
	var payload struct {
		ErrorCode   int    `json:"error_code"`
		Message     string `json:"message"`
		StatusCode  int    `json:"status_code"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload.ErrorCode != 1003 || payload.StatusCode != 401 || payload.Message == "" {
		t.Fatalf("unexpected error payload: %+v", payload)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	srv := newTestServer(t)
	registerAndLogin(t, srv, "a@example.com")
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/register", "", map[string]string{
		"email": "a@example.com", "password": "pw",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d body %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `"error_code":1001`) {
		t.Fatalf("expected code 1001, got %s", body)
	}
}

func TestRefreshToken(t *testing.T) {
	srv := newTestServer(t)
	registerAndLogin(t, srv, "a@example.com")
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/login", "", map[string]string{
		"email": "a@example.com", "password": "pw",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d body %s", resp.StatusCode, body)
	}
	var pair domain.TokenPair
	_ = json.Unmarshal(body, &pair)

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/refresh-token", "", map[string]string{
		"refresh_token": pair.RefreshToken,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: status %d body %s", resp.StatusCode, body)
	}

	// An access token must not pass as a refresh token.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/auth/refresh-token", "", map[string]string{
		"refresh_token": pair.AccessToken,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh with access token: status %d body %s", resp.StatusCode, body)
	}
}

func TestUploadTitleField(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "titles@example.com")

	meta := uploadPDF(t, srv, token, "Quarterly Report", "q3-final-v2.pdf", "page one")
	if meta.Title != "Quarterly Report" {
		t.Fatalf("title field dropped: %q", meta.Title)
	}

	meta = uploadPDF(t, srv, token, "", "report.pdf", "page one")
	if meta.Title != "report" {
		t.Fatalf("title must default to the filename: %q", meta.Title)
	}
}

func TestPDFLifecycle(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "a@example.com")

	meta := uploadPDF(t, srv, token, "", "report.pdf", "page one\npage two")
	if meta.Parsed {
		t.Fatalf("upload must not parse: %+v", meta)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/pdf/list", token, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), meta.ID) {
		t.Fatalf("list: status %d body %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/pdf/parse/"+meta.ID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("parse: status %d body %s", resp.StatusCode, body)
	}

	// Second parse reports already parsed.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/pdf/parse/"+meta.ID, token, nil)
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(string(body), `"error_code":3004`) {
		t.Fatalf("reparse: status %d body %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/pdf/select/"+meta.ID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("select: status %d body %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/pdf/selected", token, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), meta.ID) {
		t.Fatalf("selected: status %d body %s", resp.StatusCode, body)
	}
}

func TestUploadRejectsNonPDF(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "a@example.com")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "notes.txt")
	_, _ = fw.Write([]byte("plain text"))
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/pdf/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-pdf upload, got %d", resp.StatusCode)
	}
}

func TestParseForeignDocumentDenied(t *testing.T) {
	srv := newTestServer(t)
	owner := registerAndLogin(t, srv, "owner@example.com")
	other := registerAndLogin(t, srv, "other@example.com")

	meta := uploadPDF(t, srv, owner, "", "mine.pdf", "content")
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/pdf/parse/"+meta.ID, other, nil)
	if resp.StatusCode != http.StatusForbidden || !strings.Contains(string(body), `"error_code":3003`) {
		t.Fatalf("status %d body %s", resp.StatusCode, body)
	}
}

func TestChatFlow(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "a@example.com")
	meta := uploadPDF(t, srv, token, "", "doc.pdf", "the sky is blue")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/pdf/select/"+meta.ID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("select: status %d body %s", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/chat", token, map[string]string{
		"question": "what color is the sky?",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat: status %d body %s", resp.StatusCode, body)
	}
	var answer service.ChatAnswer
	if err := json.Unmarshal(body, &answer); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if answer.Answer == "" || answer.SessionID == "" {
		t.Fatalf("unexpected answer: %+v", answer)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/chat/history", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: status %d body %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "what color is the sky?") {
		t.Fatalf("history missing question: %s", body)
	}
}

func TestChatWithoutSelection(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "a@example.com")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/chat", token, map[string]string{
		"question": "anything",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d body %s", resp.StatusCode, body)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "a@example.com")

	cases := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/v1/auth/register"},
		{http.MethodPut, "/api/v1/pdf/list"},
		{http.MethodGet, "/api/v1/chat"},
	}
	for _, tc := range cases {
		resp, body := doJSON(t, tc.method, srv.URL+tc.path, token, nil)
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("%s %s: status %d body %s", tc.method, tc.path, resp.StatusCode, body)
		}
	}
}

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/asta/histd/internal/history"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T) (http.Handler, *history.Service) {
	t.Helper()
	svc := newTestService(t)
	return NewRouter(RouterDeps{Service: svc}), svc
}

func doRequest(t *testing.T, h http.Handler, method, url, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var env envelope
	if strings.HasPrefix(url, "/api/") {
		if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
			t.Fatalf("decoding envelope: %v; body = %s", err, rr.Body.String())
		}
	}
	return rr, env
}

func decodeData(t *testing.T, env envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decoding data: %v; data = %s", err, env.Data)
	}
}

func TestHealth(t *testing.T) {
	h, _ := setupRouter(t)

	rr, _ := doRequest(t, h, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rr.Header().Get(RequestIDHeader) == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestRequestIDPropagated(t *testing.T) {
	h, _ := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if got := rr.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestSaveAndGet(t *testing.T) {
	h, _ := setupRouter(t)

	body := `{"title":"北京三日游","generatedItinerary":"Day 1: 故宫","userId":1,"username":"testuser"}`
	rr, env := doRequest(t, h, http.MethodPost, "/api/history/save", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if env.Code != CodeSuccess || env.Message != "success" {
		t.Fatalf("envelope = %+v", env)
	}

	var saved history.Record
	decodeData(t, env, &saved)
	if saved.ID == "" || saved.CreatedAt == "" {
		t.Fatalf("id/createdAt not assigned: %+v", saved)
	}
	if saved.Content != "Day 1: 故宫" || saved.UserID == nil || *saved.UserID != 1 {
		t.Fatalf("unexpected saved record: %+v", saved)
	}

	rr, env = doRequest(t, h, http.MethodGet, "/api/history/"+saved.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	var got history.Record
	decodeData(t, env, &got)
	if got.ID != saved.ID || got.Title != saved.Title || got.CreatedAt != saved.CreatedAt {
		t.Fatalf("got %+v, want %+v", got, saved)
	}
}

func TestSave_BadRequests(t *testing.T) {
	h, _ := setupRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{title:`},
		{"bad createdAt", `{"title":"t","createdAt":"2025-01-01T00:00:00Z"}`},
		{"userId not a number", `{"title":"t","userId":"one"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, env := doRequest(t, h, http.MethodPost, "/api/history/save", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rr.Code)
			}
			if env.Code != CodeFailure {
				t.Fatalf("code = %d, want %d", env.Code, CodeFailure)
			}
		})
	}
}

func TestGet_NotFound(t *testing.T) {
	h, _ := setupRouter(t)

	rr, env := doRequest(t, h, http.MethodGet, "/api/history/HIST_0_404", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if env.Code != CodeFailure || !strings.Contains(env.Message, "HIST_0_404") {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestDelete(t *testing.T) {
	h, svc := setupRouter(t)
	saved, _ := svc.Save(context.Background(), history.Record{Title: "t", UserID: history.UserID(1)})

	rr, _ := doRequest(t, h, http.MethodDelete, "/api/history/"+saved.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(svc.GetByUserID(context.Background(), 1)) != 0 {
		t.Fatal("record still indexed after delete")
	}

	rr, _ = doRequest(t, h, http.MethodDelete, "/api/history/"+saved.ID, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", rr.Code)
	}
}

func TestUserRoutes(t *testing.T) {
	h, svc := setupRouter(t)
	ctx := context.Background()
	a, _ := svc.Save(ctx, history.Record{Title: "a", UserID: history.UserID(5)})
	b, _ := svc.Save(ctx, history.Record{Title: "b", UserID: history.UserID(5)})

	rr, env := doRequest(t, h, http.MethodGet, "/api/history/user/5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var list []history.Record
	decodeData(t, env, &list)
	if len(list) != 2 || list[0].ID != b.ID || list[1].ID != a.ID {
		t.Fatalf("list = %+v, want [b a]", list)
	}

	rr, env = doRequest(t, h, http.MethodDelete, "/api/history/user/5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	var deleted map[string]int
	decodeData(t, env, &deleted)
	if deleted["deleted"] != 2 {
		t.Fatalf("deleted = %v, want 2", deleted)
	}

	_, env = doRequest(t, h, http.MethodGet, "/api/history/user/5", "")
	if string(env.Data) != "[]" {
		t.Fatalf("list after purge = %s, want []", env.Data)
	}
}

func TestUserRoutes_InvalidID(t *testing.T) {
	h, _ := setupRouter(t)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		rr, _ := doRequest(t, h, method, "/api/history/user/abc", "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", method, rr.Code)
		}
	}
}

func TestAllAndSearch(t *testing.T) {
	h, svc := setupRouter(t)
	ctx := context.Background()
	svc.Save(ctx, history.Record{Title: "上海迪士尼乐园一日游", CreatedAt: "2025-06-01 00:00:00"})
	svc.Save(ctx, history.Record{Title: "北京三日游", CreatedAt: "2025-01-01 00:00:00"})

	_, env := doRequest(t, h, http.MethodGet, "/api/history/all", "")
	var all []history.Record
	decodeData(t, env, &all)
	if len(all) != 2 || all[0].CreatedAt != "2025-06-01 00:00:00" {
		t.Fatalf("all = %+v", all)
	}

	_, env = doRequest(t, h, http.MethodGet, "/api/history/search?title=%E8%BF%AA%E5%A3%AB%E5%B0%BC", "")
	var found []history.Record
	decodeData(t, env, &found)
	if len(found) != 1 || found[0].Title != "上海迪士尼乐园一日游" {
		t.Fatalf("search = %+v", found)
	}

	_, env = doRequest(t, h, http.MethodGet, "/api/history/search?title=", "")
	if string(env.Data) != "[]" {
		t.Fatalf("blank search = %s, want []", env.Data)
	}
}

func TestPage(t *testing.T) {
	h, svc := setupRouter(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		svc.Save(ctx, history.Record{Title: "trip"})
	}

	rr, env := doRequest(t, h, http.MethodPost, "/api/history/page", `{"pageIndex":3,"pageSize":3}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var page struct {
		Records     json.RawMessage `json:"records"`
		Total       int             `json:"total"`
		Current     int             `json:"current"`
		Size        int             `json:"size"`
		Pages       int             `json:"pages"`
		HasPrevious bool            `json:"hasPrevious"`
		HasNext     bool            `json:"hasNext"`
	}
	decodeData(t, env, &page)
	if string(page.Records) != "[]" {
		t.Errorf("records = %s, want []", page.Records)
	}
	if page.Total != 5 || page.Current != 3 || page.Size != 3 || page.Pages != 2 || !page.HasPrevious || page.HasNext {
		t.Errorf("page = %+v", page)
	}

	rr, _ = doRequest(t, h, http.MethodPost, "/api/history/page", `[]`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", rr.Code)
	}
}

func TestScanRoutesThrottled(t *testing.T) {
	svc := newTestService(t)
	h := NewRouter(RouterDeps{Service: svc, ScanRate: 0.001, ScanBurst: 2})

	for i := 0; i < 2; i++ {
		if rr, _ := doRequest(t, h, http.MethodGet, "/api/history/all", ""); rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i, rr.Code)
		}
	}

	rr, env := doRequest(t, h, http.MethodGet, "/api/history/search?title=x", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if env.Code != CodeFailure || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("throttled response = %+v, headers %v", env, rr.Header())
	}

	// Non-scan routes share no bucket.
	if rr, _ := doRequest(t, h, http.MethodGet, "/api/history/user/1", ""); rr.Code != http.StatusOK {
		t.Fatalf("user route status = %d, want 200", rr.Code)
	}
}

func TestRecoverer(t *testing.T) {
	h := NewRouter(RouterDeps{Service: panicService{}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/history/all", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
}

type panicService struct{ HistoryService }

func (panicService) GetAll(context.Context) []history.Record { panic("boom") }

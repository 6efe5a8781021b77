package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tally/api/internal/auth"
	"tally/api/internal/store"
)

const (
	testServiceToken = "svc-token"
	testAdminToken   = "admin-token"
)

type fakeTriggers struct {
	recomputeFn func(context.Context) error
	evaluateFn  func(context.Context) error
}

func (f *fakeTriggers) TriggerRecompute(ctx context.Context) error {
	if f.recomputeFn != nil {
		return f.recomputeFn(ctx)
	}
	return nil
}

func (f *fakeTriggers) TriggerEvaluate(ctx context.Context) error {
	if f.evaluateFn != nil {
		return f.evaluateFn(ctx)
	}
	return nil
}

func newTestServer(t *testing.T, fs *fakeStore, triggers *fakeTriggers) *HTTPServer {
	t.Helper()
	adminHash, err := auth.HashAdminToken(testAdminToken)
	if err != nil {
		t.Fatalf("hash admin token: %v", err)
	}
	if triggers == nil {
		triggers = &fakeTriggers{}
	}
	verifier := auth.NewVerifier(testServiceToken, adminHash)
	return NewHTTPServer(newTestService(fs), triggers, verifier, "*")
}

func doRequest(server *HTTPServer, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	return response
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, &fakeStore{}, nil)
	rr := doRequest(server, http.MethodGet, "/api/health", "", "")

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["ok"] != true {
		t.Errorf("expected ok=true, got %v", response["ok"])
	}
}

func TestReadyEndpointDatabaseDown(t *testing.T) {
	fs := &fakeStore{
		pingFn: func(context.Context) error { return errors.New("connection refused") },
	}
	server := newTestServer(t, fs, nil)
	rr := doRequest(server, http.MethodGet, "/api/ready", "", "")

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["status"] != "not_ready" {
		t.Errorf("expected not_ready, got %v", response["status"])
	}
}

func TestReadyEndpointHealthy(t *testing.T) {
	server := newTestServer(t, &fakeStore{}, nil)
	rr := doRequest(server, http.MethodGet, "/api/ready", "", "")

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestRecordEventRequiresToken(t *testing.T) {
	server := newTestServer(t, &fakeStore{getUserFn: knownUser("u1")}, nil)

	rr := doRequest(server, http.MethodPost, "/api/events", "",
		`{"userId":"u1","eventType":"review_given","delta":15}`)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rr.Code)
	}

	rr = doRequest(server, http.MethodPost, "/api/events", "wrong-token",
		`{"userId":"u1","eventType":"review_given","delta":15}`)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with bad token, got %d", rr.Code)
	}
}

func TestRecordEventWithServiceToken(t *testing.T) {
	server := newTestServer(t, &fakeStore{getUserFn: knownUser("u1")}, nil)

	rr := doRequest(server, http.MethodPost, "/api/events", testServiceToken,
		`{"userId":"u1","eventType":"review_given","delta":15,"reason":"solid feedback"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	response := decodeResponse(t, rr)
	if response["eventType"] != "review_given" {
		t.Errorf("unexpected payload: %v", response)
	}
}

func TestRecordEventAdminTokenAccepted(t *testing.T) {
	server := newTestServer(t, &fakeStore{getUserFn: knownUser("u1")}, nil)

	rr := doRequest(server, http.MethodPost, "/api/events", testAdminToken,
		`{"userId":"u1","eventType":"admin_adjustment","delta":-10,"reason":"correction"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRecordEventUnknownTypeRejected(t *testing.T) {
	server := newTestServer(t, &fakeStore{getUserFn: knownUser("u1")}, nil)

	rr := doRequest(server, http.MethodPost, "/api/events", testServiceToken,
		`{"userId":"u1","eventType":"document_liked","delta":5}`)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["code"] != "UNKNOWN_EVENT_TYPE" {
		t.Errorf("expected UNKNOWN_EVENT_TYPE, got %v", response["code"])
	}
}

func TestUserScoreRoute(t *testing.T) {
	fs := &fakeStore{
		getSnapshotFn: func(_ context.Context, userID string) (store.UserScoreSnapshot, error) {
			return store.UserScoreSnapshot{UserID: userID, Written: 150, Total: 150, Grade: "D"}, nil
		},
	}
	server := newTestServer(t, fs, nil)

	rr := doRequest(server, http.MethodGet, "/api/users/u1/score", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if response["grade"] != "D" || response["totalScore"] != float64(150) {
		t.Errorf("unexpected payload: %v", response)
	}
}

func TestLeaderboardRouteRejectsBadWindow(t *testing.T) {
	server := newTestServer(t, &fakeStore{}, nil)
	rr := doRequest(server, http.MethodGet, "/api/leaderboard?window=decade", "", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rr.Code)
	}
}

func TestLeaderboardRouteRejectsBadLimit(t *testing.T) {
	server := newTestServer(t, &fakeStore{}, nil)
	rr := doRequest(server, http.MethodGet, "/api/leaderboard?limit=abc", "", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rr.Code)
	}
}

func TestResolvePenaltyRequiresAdmin(t *testing.T) {
	server := newTestServer(t, &fakeStore{}, nil)

	rr := doRequest(server, http.MethodPost, "/api/penalties/pen_1/resolve", testServiceToken, `{}`)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with service token, got %d", rr.Code)
	}
}

func TestResolvePenaltyRoute(t *testing.T) {
	resolved := false
	fs := &fakeStore{
		getPenaltyFn: func(_ context.Context, penaltyID string) (store.DocumentPenalty, error) {
			return store.DocumentPenalty{ID: penaltyID, IsResolved: resolved}, nil
		},
		resolvePenaltyFn: func(context.Context, string, string) (bool, error) {
			resolved = true
			return true, nil
		},
	}
	server := newTestServer(t, fs, nil)

	rr := doRequest(server, http.MethodPost, "/api/penalties/pen_1/resolve", testAdminToken,
		`{"resolvedBy":"ops"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(server, http.MethodPost, "/api/penalties/pen_1/resolve", testAdminToken, `{}`)
	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409 on second resolve, got %d", rr.Code)
	}
}

func TestAdminEndpointsDisabledWithoutHash(t *testing.T) {
	verifier := auth.NewVerifier(testServiceToken, "")
	server := NewHTTPServer(newTestService(&fakeStore{}), &fakeTriggers{}, verifier, "*")

	rr := doRequest(server, http.MethodPost, "/api/admin/recompute", "anything", "")
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
	if response := decodeResponse(t, rr); response["code"] != "ADMIN_DISABLED" {
		t.Errorf("expected ADMIN_DISABLED, got %v", response["code"])
	}
}

func TestAdminRecomputeTrigger(t *testing.T) {
	triggered := false
	triggers := &fakeTriggers{
		recomputeFn: func(context.Context) error {
			triggered = true
			return nil
		},
	}
	server := newTestServer(t, &fakeStore{}, triggers)

	rr := doRequest(server, http.MethodPost, "/api/admin/recompute", testAdminToken, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !triggered {
		t.Error("expected recompute trigger to fire")
	}
}

func TestCreateRuleRoute(t *testing.T) {
	server := newTestServer(t, &fakeStore{}, nil)

	rr := doRequest(server, http.MethodPost, "/api/rules", testAdminToken,
		`{"conditionType":"days_inactive","params":{"days":90},"penaltyScore":25,"priority":10}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	response := decodeResponse(t, rr)
	if response["conditionType"] != "days_inactive" || response["isActive"] != true {
		t.Errorf("unexpected payload: %v", response)
	}
}

func TestDeactivateRuleRoute(t *testing.T) {
	fs := &fakeStore{
		deactivateRuleFn: func(_ context.Context, ruleID string) (bool, error) {
			return ruleID == "rule_1", nil
		},
	}
	server := newTestServer(t, fs, nil)

	rr := doRequest(server, http.MethodPost, "/api/rules/rule_1/deactivate", testAdminToken, "")
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}

	rr = doRequest(server, http.MethodPost, "/api/rules/rule_2/deactivate", testAdminToken, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown rule, got %d", rr.Code)
	}
}

func TestDocumentPenaltiesRoute(t *testing.T) {
	fs := &fakeStore{
		getDocumentFn: func(_ context.Context, documentID string) (store.Document, error) {
			return store.Document{ID: documentID, Title: "Runbook"}, nil
		},
		listPenaltiesForDocumentFn: func(context.Context, string, bool) ([]store.DocumentPenalty, error) {
			return []store.DocumentPenalty{{ID: "pen_1", DocumentID: "doc_1", PenaltyScore: 25}}, nil
		},
	}
	server := newTestServer(t, fs, nil)

	rr := doRequest(server, http.MethodGet, "/api/documents/doc_1/penalties", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	penalties, ok := response["penalties"].([]any)
	if !ok || len(penalties) != 1 {
		t.Errorf("expected one penalty, got %v", response)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	server := newTestServer(t, &fakeStore{}, nil)
	rr := doRequest(server, http.MethodGet, "/api/unknown", "", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestMethodNotAllowedOnScoreRoute(t *testing.T) {
	server := newTestServer(t, &fakeStore{}, nil)
	rr := doRequest(server, http.MethodPost, "/api/users/u1/score", "", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

package googlefit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/vaibhavij20/Welldoc/internal/model"
	"github.com/vaibhavij20/Welldoc/internal/repository"
)

// --- モック定義 ---

type mockFitStore struct {
	mu       sync.Mutex
	tokens   map[string]*model.FitToken
	findErr  error
	upserted []*model.FitToken
}

func newMockFitStore() *mockFitStore {
	return &mockFitStore{tokens: map[string]*model.FitToken{}}
}

func (m *mockFitStore) FindByOwnerKey(_ context.Context, key string) (*model.FitToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	tok, ok := m.tokens[key]
	if !ok {
		return nil, nil
	}
	c := *tok
	return &c, nil
}

func (m *mockFitStore) Upsert(_ context.Context, tok *model.FitToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *tok
	if existing, ok := m.tokens[tok.OwnerKey]; ok && c.RefreshToken == "" {
		c.RefreshToken = existing.RefreshToken
	}
	m.tokens[tok.OwnerKey] = &c
	m.upserted = append(m.upserted, &c)
	return nil
}

var _ repository.FitTokenRepository = (*mockFitStore)(nil)

// fakeGoogle はトークンエンドポイントとFit APIを模したテストサーバー。
type fakeGoogle struct {
	t           *testing.T
	srv         *httptest.Server
	lastAggBody aggregateRequest
	apiStatus   int
	apiBody     string
	tokenStatus int
}

func newFakeGoogle(t *testing.T) *fakeGoogle {
	t.Helper()
	f := &fakeGoogle{t: t, apiStatus: http.StatusOK, tokenStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if f.tokenStatus != http.StatusOK {
			w.WriteHeader(f.tokenStatus)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant", "error_description": "Bad Request"})
			return
		}
		switch r.Form.Get("grant_type") {
		case "authorization_code":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token":  "access-1",
				"token_type":    "Bearer",
				"refresh_token": "refresh-1",
				"expires_in":    3600,
			})
		case "refresh_token":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "access-2",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		default:
			t.Errorf("unexpected grant_type %q", r.Form.Get("grant_type"))
		}
	})
	mux.HandleFunc("/fitness/v1/users/me/dataset:aggregate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&f.lastAggBody); err != nil {
			t.Errorf("decode aggregate body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.apiStatus)
		w.Write([]byte(f.apiBody))
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGoogle) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:4000/auth/google-fit/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   f.srv.URL + "/auth",
			TokenURL:  f.srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: Scopes,
	}
}

func (f *fakeGoogle) service(store repository.FitTokenRepository) *Service {
	svc := NewService(f.oauthConfig(), store, Config{APIBaseURL: f.srv.URL + "/fitness/v1/"})
	svc.now = func() time.Time { return time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC) }
	return svc
}

const sampleAggregate = `{
  "bucket": [
    {
      "startTimeMillis": "1736294400000",
      "endTimeMillis": "1736380800000",
      "dataset": [
        {"point": [{"dataTypeName": "com.google.step_count.delta", "value": [{"intVal": 4200}]}]},
        {"point": [{"dataTypeName": "com.google.calories.expended", "value": [{"fpVal": 1830.5}]}]},
        {"point": [{"dataTypeName": "com.google.heart_rate.summary", "value": [{"fpVal": 72.5}, {"fpVal": 120}, {"fpVal": 55}]}]}
      ]
    },
    {
      "startTimeMillis": "1736380800000",
      "endTimeMillis": "1736467200000",
      "dataset": [
        {"point": [{"dataTypeName": "com.google.step_count.delta", "value": [{"intVal": 800}]}]},
        {"point": []},
        {"point": []}
      ]
    }
  ]
}`

// --- テスト ---

func TestOwnerKeys(t *testing.T) {
	if got := UserOwnerKey("u-1"); got != "user:u-1" {
		t.Errorf("UserOwnerKey = %q", got)
	}

	a, err := NewAnonymousOwnerKey()
	if err != nil {
		t.Fatalf("NewAnonymousOwnerKey error: %v", err)
	}
	b, _ := NewAnonymousOwnerKey()
	if !IsAnonymousOwnerKey(a) || a == b {
		t.Errorf("anonymous keys should be prefixed and random: %q %q", a, b)
	}
	if len(a) != len("anon:")+32 {
		t.Errorf("len = %d, want %d", len(a), len("anon:")+32)
	}
	if IsAnonymousOwnerKey("user:u-1") || IsAnonymousOwnerKey("anon:") {
		t.Error("non-anonymous keys must not match")
	}
}

func TestNewOAuthConfig_UsesGoogleEndpointAndFitScopes(t *testing.T) {
	cfg := NewOAuthConfig("id", "secret", "http://localhost/cb")
	if !strings.Contains(cfg.Endpoint.AuthURL, "accounts.google.com") {
		t.Errorf("AuthURL = %q", cfg.Endpoint.AuthURL)
	}
	if len(cfg.Scopes) != 3 {
		t.Errorf("Scopes = %v", cfg.Scopes)
	}
}

func TestAuthURL_RequestsOfflineAccess(t *testing.T) {
	f := newFakeGoogle(t)
	svc := f.service(newMockFitStore())

	raw := svc.AuthURL("state-123")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()

	checks := map[string]string{
		"state":         "state-123",
		"access_type":   "offline",
		"prompt":        "consent",
		"client_id":     "client-id",
		"response_type": "code",
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if !strings.Contains(q.Get("scope"), "fitness.activity.read") {
		t.Errorf("scope = %q", q.Get("scope"))
	}
}

func TestConnect_StoresToken(t *testing.T) {
	f := newFakeGoogle(t)
	store := newMockFitStore()
	svc := f.service(store)

	if err := svc.Connect(context.Background(), "anon:abc", "auth-code"); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	tok := store.tokens["anon:abc"]
	if tok == nil {
		t.Fatal("token not stored")
	}
	if tok.AccessToken != "access-1" || tok.RefreshToken != "refresh-1" {
		t.Errorf("unexpected token: %+v", tok)
	}
	if tok.Expiry == nil {
		t.Error("expiry should be stored")
	}
	if !svc.Status(context.Background(), "anon:abc") {
		t.Error("Status should report connected")
	}
}

func TestConnect_ProviderError(t *testing.T) {
	f := newFakeGoogle(t)
	f.tokenStatus = http.StatusBadRequest
	store := newMockFitStore()

	err := f.service(store).Connect(context.Background(), "anon:abc", "bad-code")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeProviderError {
		t.Fatalf("want PROVIDER_ERROR, got %v", err)
	}
	if len(apiErr.Details) == 0 || !strings.Contains(apiErr.Details[0], "invalid_grant") {
		t.Errorf("Details = %v, want provider error passed through", apiErr.Details)
	}
	if len(store.upserted) != 0 {
		t.Error("nothing should be stored on failure")
	}
}

func TestConnect_MissingCode(t *testing.T) {
	f := newFakeGoogle(t)
	err := f.service(newMockFitStore()).Connect(context.Background(), "anon:abc", "")

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidRequest {
		t.Fatalf("want INVALID_REQUEST, got %v", err)
	}
}

func TestStatus_BestEffort(t *testing.T) {
	f := newFakeGoogle(t)
	store := newMockFitStore()
	svc := f.service(store)

	if svc.Status(context.Background(), "") {
		t.Error("empty key must be disconnected")
	}
	if svc.Status(context.Background(), "user:none") {
		t.Error("unknown key must be disconnected")
	}

	store.tokens["user:u-1"] = &model.FitToken{OwnerKey: "user:u-1", AccessToken: "a"}
	store.findErr = errors.New("db down")
	if svc.Status(context.Background(), "user:u-1") {
		t.Error("lookup failure must report disconnected")
	}
}

func TestDailyMetrics_Success(t *testing.T) {
	f := newFakeGoogle(t)
	f.apiBody = sampleAggregate
	store := newMockFitStore()
	exp := time.Now().Add(time.Hour)
	store.tokens["user:u-1"] = &model.FitToken{OwnerKey: "user:u-1", AccessToken: "access-1", RefreshToken: "refresh-1", TokenType: "Bearer", Expiry: &exp}

	metrics, err := f.service(store).DailyMetrics(context.Background(), "user:u-1", 3)
	if err != nil {
		t.Fatalf("DailyMetrics error: %v", err)
	}

	if len(metrics) != 2 {
		t.Fatalf("len = %d, want 2", len(metrics))
	}
	if metrics[0].Date != "2025-01-08" || metrics[0].Steps != 4200 || metrics[0].Calories != 1830.5 {
		t.Errorf("day 0 = %+v", metrics[0])
	}
	if metrics[0].HeartRateAvg == nil || *metrics[0].HeartRateAvg != 72.5 {
		t.Errorf("day 0 heart rate = %v", metrics[0].HeartRateAvg)
	}
	if metrics[1].Date != "2025-01-09" || metrics[1].Steps != 800 || metrics[1].HeartRateAvg != nil {
		t.Errorf("day 1 = %+v", metrics[1])
	}

	wantStart := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC).UnixMilli()
	if f.lastAggBody.StartTimeMillis != wantStart {
		t.Errorf("startTimeMillis = %d, want %d", f.lastAggBody.StartTimeMillis, wantStart)
	}
	if f.lastAggBody.BucketByTime.DurationMillis != 86400000 {
		t.Errorf("bucket duration = %d", f.lastAggBody.BucketByTime.DurationMillis)
	}
	if len(f.lastAggBody.AggregateBy) != 3 {
		t.Errorf("aggregateBy = %v", f.lastAggBody.AggregateBy)
	}

	if len(store.upserted) != 0 {
		t.Error("unchanged token should not be re-saved")
	}
}

func TestDailyMetrics_RefreshesAndPersistsToken(t *testing.T) {
	f := newFakeGoogle(t)
	f.apiBody = `{"bucket": []}`
	store := newMockFitStore()
	expired := time.Now().Add(-time.Hour)
	store.tokens["anon:abc"] = &model.FitToken{OwnerKey: "anon:abc", AccessToken: "access-1", RefreshToken: "refresh-1", TokenType: "Bearer", Expiry: &expired}

	metrics, err := f.service(store).DailyMetrics(context.Background(), "anon:abc", 7)
	if err != nil {
		t.Fatalf("DailyMetrics error: %v", err)
	}
	if len(metrics) != 0 {
		t.Errorf("len = %d, want 0", len(metrics))
	}

	tok := store.tokens["anon:abc"]
	if tok.AccessToken != "access-2" {
		t.Errorf("AccessToken = %q, want refreshed access-2", tok.AccessToken)
	}
	if tok.RefreshToken != "refresh-1" {
		t.Errorf("RefreshToken = %q, want refresh-1 kept", tok.RefreshToken)
	}
}

func TestDailyMetrics_NotConnected(t *testing.T) {
	f := newFakeGoogle(t)
	_, err := f.service(newMockFitStore()).DailyMetrics(context.Background(), "user:none", 7)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}
}

func TestDailyMetrics_InvalidDays(t *testing.T) {
	f := newFakeGoogle(t)
	svc := f.service(newMockFitStore())

	for _, days := range []int{0, -1, 31} {
		_, err := svc.DailyMetrics(context.Background(), "user:u-1", days)
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeInvalidRequest {
			t.Errorf("days=%d: want INVALID_REQUEST, got %v", days, err)
		}
	}
}

func TestDailyMetrics_ProviderFailure(t *testing.T) {
	f := newFakeGoogle(t)
	f.apiStatus = http.StatusForbidden
	f.apiBody = `{"error": {"code": 403, "message": "insufficient scopes"}}`
	store := newMockFitStore()
	exp := time.Now().Add(time.Hour)
	store.tokens["user:u-1"] = &model.FitToken{OwnerKey: "user:u-1", AccessToken: "access-1", TokenType: "Bearer", Expiry: &exp}

	_, err := f.service(store).DailyMetrics(context.Background(), "user:u-1", 7)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeProviderError {
		t.Fatalf("want PROVIDER_ERROR, got %v", err)
	}
	if len(apiErr.Details) != 1 || !strings.Contains(apiErr.Details[0], "insufficient scopes") {
		t.Errorf("Details = %v", apiErr.Details)
	}
}

func TestDailyMetrics_RefreshFailure(t *testing.T) {
	f := newFakeGoogle(t)
	f.tokenStatus = http.StatusBadRequest
	store := newMockFitStore()
	expired := time.Now().Add(-time.Hour)
	store.tokens["user:u-1"] = &model.FitToken{OwnerKey: "user:u-1", AccessToken: "access-1", RefreshToken: "revoked", TokenType: "Bearer", Expiry: &expired}

	_, err := f.service(store).DailyMetrics(context.Background(), "user:u-1", 7)

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeProviderError {
		t.Fatalf("want PROVIDER_ERROR, got %v", err)
	}
}

// countingTransport は送信したリクエストのパスを記録するRoundTripper。
type countingTransport struct {
	mu    sync.Mutex
	paths []string
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	c.paths = append(c.paths, req.URL.Path)
	c.mu.Unlock()
	return http.DefaultTransport.RoundTrip(req)
}

func TestConfiguredHTTPClient_UsedForExchangeAndAPI(t *testing.T) {
	f := newFakeGoogle(t)
	f.apiBody = sampleAggregate
	store := newMockFitStore()

	transport := &countingTransport{}
	svc := NewService(f.oauthConfig(), store, Config{
		APIBaseURL: f.srv.URL + "/fitness/v1",
		HTTPClient: &http.Client{Transport: transport},
	})

	if err := svc.Connect(context.Background(), "user:u-1", "auth-code"); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if _, err := svc.DailyMetrics(context.Background(), "user:u-1", 1); err != nil {
		t.Fatalf("DailyMetrics error: %v", err)
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	joined := strings.Join(transport.paths, ",")
	if !strings.Contains(joined, "/token") {
		t.Errorf("token exchange should use the configured client, paths = %v", transport.paths)
	}
	if !strings.Contains(joined, "/fitness/v1/users/me/dataset:aggregate") {
		t.Errorf("aggregate call should use the configured client, paths = %v", transport.paths)
	}
}

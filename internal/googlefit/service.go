// Package googlefit はGoogle FitとのOAuth連携と、日次ヘルスメトリクスの取得を提供する。
//
// 連携トークンはオーナーキー単位で保存する。ログイン中のユーザーは "user:<id>"、
// 未ログインのブラウザは Cookie で保持する "anon:<random>" をキーとする。
package googlefit

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/vaibhavij20/Welldoc/internal/model"
	"github.com/vaibhavij20/Welldoc/internal/repository"
)

// ErrNotConnected はオーナーキーに連携トークンが存在しないことを表す。
var ErrNotConnected = errors.New("google fit not connected")

const (
	// DefaultAPIBaseURL はGoogle Fit REST APIのベースURL。
	DefaultAPIBaseURL = "https://www.googleapis.com/fitness/v1"

	// MaxDays はDailyMetricsで取得できる最大日数。
	MaxDays = 30

	providerName = "Google Fit"

	userKeyPrefix = "user:"
	anonKeyPrefix = "anon:"

	dayMillis = int64(24 * time.Hour / time.Millisecond)

	dataTypeSteps     = "com.google.step_count.delta"
	dataTypeCalories  = "com.google.calories.expended"
	dataTypeHeartRate = "com.google.heart_rate.bpm"
	dataTypeHRSummary = "com.google.heart_rate.summary"

	// maxErrorBody はプロバイダーのエラー応答から詳細として返す最大バイト数。
	maxErrorBody = 512

	// maxResponseBytes は集計APIの応答として読み込む上限。30日分でも数十KB程度。
	maxResponseBytes = 4 << 20
)

// Scopes はGoogle Fit連携で要求するスコープ。
var Scopes = []string{
	"https://www.googleapis.com/auth/fitness.activity.read",
	"https://www.googleapis.com/auth/fitness.heart_rate.read",
	"https://www.googleapis.com/auth/fitness.body.read",
}

// NewOAuthConfig はGoogle Fit連携用のoauth2.Configを生成する。
func NewOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       Scopes,
	}
}

// UserOwnerKey はユーザーに紐づくオーナーキーを返す。
func UserOwnerKey(userID string) string {
	return userKeyPrefix + userID
}

// NewAnonymousOwnerKey は未ログインの連携フロー用のランダムなオーナーキーを生成する。
func NewAnonymousOwnerKey() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate owner key: %w", err)
	}
	return anonKeyPrefix + hex.EncodeToString(b), nil
}

// IsAnonymousOwnerKey は未ログインの連携フローのオーナーキーかどうかを返す。
func IsAnonymousOwnerKey(key string) bool {
	return strings.HasPrefix(key, anonKeyPrefix) && len(key) > len(anonKeyPrefix)
}

// Config はGoogle Fitサービスの設定。
type Config struct {
	APIBaseURL string
	// HTTPClient はトークン交換とAPI呼び出しに使うクライアント。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
}

// DailyMetric は1日分の集計値。心拍データが無い日はHeartRateAvgがnil。
type DailyMetric struct {
	Date         string   `json:"date"`
	Steps        int64    `json:"steps"`
	Calories     float64  `json:"calories"`
	HeartRateAvg *float64 `json:"heartRateAvg"`
}

// Service はGoogle Fit連携を提供する。
type Service struct {
	oauth  *oauth2.Config
	store  repository.FitTokenRepository
	config Config
	now    func() time.Time
}

// NewService はServiceを生成する。
func NewService(oauthCfg *oauth2.Config, store repository.FitTokenRepository, config Config) *Service {
	if config.APIBaseURL == "" {
		config.APIBaseURL = DefaultAPIBaseURL
	}
	config.APIBaseURL = strings.TrimRight(config.APIBaseURL, "/")
	return &Service{
		oauth:  oauthCfg,
		store:  store,
		config: config,
		now:    time.Now,
	}
}

// AuthURL は同意画面のURLを返す。リフレッシュトークンを得るためオフラインアクセスと再同意を要求する。
func (s *Service) AuthURL(state string) string {
	return s.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Connect は認可コードをトークンに交換し、オーナーキーに紐づけて保存する。
func (s *Service) Connect(ctx context.Context, ownerKey, code string) error {
	if code == "" {
		return model.NewInvalidRequestError("missing authorization code")
	}

	tok, err := s.oauth.Exchange(s.withHTTPClient(ctx), code)
	if err != nil {
		slog.Warn("google fit token exchange failed", slog.String("error", err.Error()))
		return model.NewProviderError(providerName, providerDetail(err))
	}

	if err := s.store.Upsert(ctx, toModel(ownerKey, tok)); err != nil {
		return fmt.Errorf("failed to save fit token: %w", err)
	}

	slog.Info("google fit connected", slog.Bool("anonymous", IsAnonymousOwnerKey(ownerKey)))
	return nil
}

// Status はオーナーキーに連携トークンが存在するかを返す。
// 参照に失敗した場合も未連携として扱う。
func (s *Service) Status(ctx context.Context, ownerKey string) bool {
	if ownerKey == "" {
		return false
	}
	tok, err := s.store.FindByOwnerKey(ctx, ownerKey)
	if err != nil {
		slog.Warn("google fit status lookup failed", slog.String("error", err.Error()))
		return false
	}
	return tok != nil && tok.AccessToken != ""
}

// DailyMetrics は直近days日分（今日を含む、UTC日単位）の歩数・消費カロリー・平均心拍を返す。
// アクセストークンが期限切れの場合はリフレッシュし、更新後のトークンを保存する。
func (s *Service) DailyMetrics(ctx context.Context, ownerKey string, days int) ([]DailyMetric, error) {
	if days < 1 || days > MaxDays {
		return nil, model.NewInvalidRequestError(fmt.Sprintf("days must be between 1 and %d", MaxDays))
	}

	stored, err := s.store.FindByOwnerKey(ctx, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to find fit token: %w", err)
	}
	if stored == nil {
		return nil, ErrNotConnected
	}

	ctx = s.withHTTPClient(ctx)
	current := toOAuth2(stored)
	src := oauth2.ReuseTokenSource(current, s.oauth.TokenSource(ctx, current))

	now := s.now().UTC()
	end := now
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))

	resp, err := s.aggregate(ctx, src, start, end)
	if err != nil {
		return nil, err
	}

	s.persistRefreshed(ctx, ownerKey, current, src)

	return resp.toDailyMetrics(), nil
}

type aggregateRequest struct {
	AggregateBy     []aggregateBy `json:"aggregateBy"`
	BucketByTime    bucketByTime  `json:"bucketByTime"`
	StartTimeMillis int64         `json:"startTimeMillis"`
	EndTimeMillis   int64         `json:"endTimeMillis"`
}

type aggregateBy struct {
	DataTypeName string `json:"dataTypeName"`
}

type bucketByTime struct {
	DurationMillis int64 `json:"durationMillis"`
}

type aggregateResponse struct {
	Bucket []struct {
		StartTimeMillis string `json:"startTimeMillis"`
		Dataset         []struct {
			Point []struct {
				DataTypeName string `json:"dataTypeName"`
				Value        []struct {
					IntVal *int64   `json:"intVal"`
					FpVal  *float64 `json:"fpVal"`
				} `json:"value"`
			} `json:"point"`
		} `json:"dataset"`
	} `json:"bucket"`
}

// withHTTPClient は設定されたHTTPクライアントをoauth2に渡すためのコンテキストを返す。
func (s *Service) withHTTPClient(ctx context.Context) context.Context {
	if s.config.HTTPClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, s.config.HTTPClient)
}

func (s *Service) aggregate(ctx context.Context, src oauth2.TokenSource, start, end time.Time) (*aggregateResponse, error) {
	body, err := json.Marshal(aggregateRequest{
		AggregateBy: []aggregateBy{
			{DataTypeName: dataTypeSteps},
			{DataTypeName: dataTypeCalories},
			{DataTypeName: dataTypeHeartRate},
		},
		BucketByTime:    bucketByTime{DurationMillis: dayMillis},
		StartTimeMillis: start.UnixMilli(),
		EndTimeMillis:   end.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode aggregate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/users/me/dataset:aggregate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create aggregate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := oauth2.NewClient(ctx, src).Do(req)
	if err != nil {
		slog.Warn("google fit request failed", slog.String("error", err.Error()))
		return nil, model.NewProviderError(providerName, providerDetail(err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, model.NewProviderError(providerName, err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		slog.Warn("google fit returned an error",
			slog.Int("status", resp.StatusCode),
		)
		return nil, model.NewProviderError(providerName, fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(raw), maxErrorBody)))
	}

	var out aggregateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, model.NewProviderError(providerName, "unexpected response format")
	}
	return &out, nil
}

func (r *aggregateResponse) toDailyMetrics() []DailyMetric {
	metrics := make([]DailyMetric, 0, len(r.Bucket))
	for _, b := range r.Bucket {
		ms, err := strconv.ParseInt(b.StartTimeMillis, 10, 64)
		if err != nil {
			continue
		}
		m := DailyMetric{Date: time.UnixMilli(ms).UTC().Format("2006-01-02")}

		for _, ds := range b.Dataset {
			for _, p := range ds.Point {
				if len(p.Value) == 0 {
					continue
				}
				switch p.DataTypeName {
				case dataTypeSteps:
					if p.Value[0].IntVal != nil {
						m.Steps += *p.Value[0].IntVal
					}
				case dataTypeCalories:
					if p.Value[0].FpVal != nil {
						m.Calories += *p.Value[0].FpVal
					}
				case dataTypeHRSummary:
					// summaryの値は average, max, min の順
					if p.Value[0].FpVal != nil {
						avg := *p.Value[0].FpVal
						m.HeartRateAvg = &avg
					}
				}
			}
		}
		metrics = append(metrics, m)
	}
	return metrics
}

// persistRefreshed はリフレッシュでアクセストークンが更新されていれば保存する。
// 保存に失敗しても取得結果は返す。
func (s *Service) persistRefreshed(ctx context.Context, ownerKey string, before *oauth2.Token, src oauth2.TokenSource) {
	after, err := src.Token()
	if err != nil || after.AccessToken == before.AccessToken {
		return
	}
	if err := s.store.Upsert(ctx, toModel(ownerKey, after)); err != nil {
		slog.Warn("failed to persist refreshed fit token", slog.String("error", err.Error()))
		return
	}
	slog.Info("google fit token refreshed")
}

func toModel(ownerKey string, tok *oauth2.Token) *model.FitToken {
	ft := &model.FitToken{
		OwnerKey:     ownerKey,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		ft.Expiry = &exp
	}
	return ft
}

func toOAuth2(ft *model.FitToken) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  ft.AccessToken,
		RefreshToken: ft.RefreshToken,
		TokenType:    ft.TokenType,
	}
	if ft.Expiry != nil {
		tok.Expiry = *ft.Expiry
	}
	return tok
}

// providerDetail はプロバイダーのエラー内容を取り出す。
func providerDetail(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode != "" {
			return strings.TrimSpace(re.ErrorCode + " " + re.ErrorDescription)
		}
		return truncate(string(re.Body), maxErrorBody)
	}
	return err.Error()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

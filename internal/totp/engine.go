// Package totp は2要素認証用のTOTPシークレット生成、コード検証、
// バックアップコード生成、QRコード描画を提供する。
package totp

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"image/png"
	"math/big"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// BackupCodeAlphabet はバックアップコードに使う文字。読み間違えやすい 0/O/1/I を除く。
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// qrImageSize はQRコード画像の一辺のピクセル数。
const qrImageSize = 200

// Config はTOTPエンジンの設定。ゼロ値のフィールドには既定値を使用する。
type Config struct {
	Issuer           string
	Period           uint // タイムステップ（秒）。既定30
	Skew             uint // 前後に許容するステップ数。既定2
	Digits           int  // コード桁数。既定6
	SecretSize       uint // シークレットのバイト数。既定20（160bit）
	BackupCodeCount  int  // 既定10
	BackupCodeLength int  // 既定8
}

// Secret は新しく生成されたTOTPシークレットとプロビジョニングURIを表す。
type Secret struct {
	Base32     string
	OTPAuthURL string
}

// Engine はTOTPの生成・検証を行う。
type Engine struct {
	config Config
	now    func() time.Time
}

// NewEngine はEngineを生成する。
func NewEngine(cfg Config) *Engine {
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	if cfg.Skew == 0 {
		cfg.Skew = 2
	}
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	if cfg.SecretSize == 0 {
		cfg.SecretSize = 20
	}
	if cfg.BackupCodeCount == 0 {
		cfg.BackupCodeCount = 10
	}
	if cfg.BackupCodeLength == 0 {
		cfg.BackupCodeLength = 8
	}
	return &Engine{config: cfg, now: time.Now}
}

// GenerateSecret はアカウント用の新しいシークレットと otpauth:// URI を生成する。
// 永続化は呼び出し側が行う。
func (e *Engine) GenerateSecret(accountName string) (*Secret, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.config.Issuer,
		AccountName: accountName,
		Period:      e.config.Period,
		SecretSize:  e.config.SecretSize,
		Digits:      otp.Digits(e.config.Digits),
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp secret: %w", err)
	}

	return &Secret{
		Base32:     key.Secret(),
		OTPAuthURL: key.URL(),
	}, nil
}

// GenerateBackupCodes はBackupCodeCount個のバックアップコードを生成する。
// コード間の重複排除は行わない。
func (e *Engine) GenerateBackupCodes() ([]string, error) {
	codes := make([]string, e.config.BackupCodeCount)
	max := big.NewInt(int64(len(BackupCodeAlphabet)))

	for i := range codes {
		var sb strings.Builder
		sb.Grow(e.config.BackupCodeLength)
		for j := 0; j < e.config.BackupCodeLength; j++ {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return nil, fmt.Errorf("failed to generate backup code: %w", err)
			}
			sb.WriteByte(BackupCodeAlphabet[n.Int64()])
		}
		codes[i] = sb.String()
	}

	return codes, nil
}

// Verify は現在時刻でコードを検証する。
func (e *Engine) Verify(secret, code string) bool {
	ok, _ := e.VerifyAt(secret, code, e.now())
	return ok
}

// VerifyAt は時刻tのタイムステップとその前後Skewステップの範囲でコードを検証する。
// 一致した場合はそのタイムステップのカウンタ値を返す。
// シークレットやコードの形式が不正な場合はfalseを返す。
func (e *Engine) VerifyAt(secret, code string, t time.Time) (bool, int64) {
	code = strings.TrimSpace(code)
	if len(code) != e.config.Digits || !isDigits(code) {
		return false, 0
	}
	if strings.TrimSpace(secret) == "" {
		return false, 0
	}

	period := int64(e.config.Period)
	skew := int64(e.config.Skew)
	base := t.Unix() / period

	for step := -skew; step <= skew; step++ {
		counter := base + step
		if counter < 0 {
			continue
		}
		want, err := e.codeForCounter(secret, counter)
		if err != nil {
			return false, 0
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return true, counter
		}
	}

	return false, 0
}

// CodeAt は時刻tに対応するコードを返す。
func (e *Engine) CodeAt(secret string, t time.Time) (string, error) {
	return e.codeForCounter(secret, t.Unix()/int64(e.config.Period))
}

// Counter は時刻tに対応するタイムステップを返す。
func (e *Engine) Counter(t time.Time) int64 {
	return t.Unix() / int64(e.config.Period)
}

// RenderQRCode はプロビジョニングURIをPNGのQRコードにし、data URIとして返す。
func (e *Engine) RenderQRCode(otpauthURL string) (string, error) {
	key, err := otp.NewKeyFromURL(otpauthURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse otpauth url: %w", err)
	}

	img, err := key.Image(qrImageSize, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("failed to render qr code: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode qr code: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// HashBackupCode はバックアップコードの保存用ダイジェストを返す。
// 入力は前後の空白を除き大文字に正規化してからハッシュする。
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(strings.TrimSpace(code))))
	return hex.EncodeToString(sum[:])
}

// HashBackupCodes はバックアップコードのダイジェストを順序を保って返す。
func HashBackupCodes(codes []string) []string {
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = HashBackupCode(c)
	}
	return hashes
}

func (e *Engine) codeForCounter(secret string, counter int64) (string, error) {
	period := int64(e.config.Period)
	return totp.GenerateCodeCustom(secret, time.Unix(counter*period, 0).UTC(), totp.ValidateOpts{
		Period:    e.config.Period,
		Skew:      0,
		Digits:    otp.Digits(e.config.Digits),
		Algorithm: otp.AlgorithmSHA1,
	})
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Package token はセッショントークン（HS256 JWT）と
// OAuth連携用の短命なstateトークンの発行・検証を行う。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken は署名不正・形式不正・必須クレーム欠落のトークンを表す。
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpired は有効期限切れのトークンを表す。
	ErrExpired = errors.New("token expired")
)

// stateAudience はstateトークンのaudience。セッショントークンとの取り違えを防ぐ。
const stateAudience = "google-fit-connect"

// Claims はセッショントークンのクレーム。
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

type stateClaims struct {
	OwnerKey string `json:"ownerKey"`
	Nonce    string `json:"nonce"`
	jwt.RegisteredClaims
}

// Issuer はトークンの発行・検証を行う。
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer はIssuerを生成する。
func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return &Issuer{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue はユーザーのセッショントークンを発行し、トークンと有効期限を返す。
func (i *Issuer) Issue(userID, email string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)

	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify はセッショントークンを検証しクレームを返す。
// 期限切れはErrExpired、それ以外の不正はErrInvalidTokenを返す。
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if err := i.parse(tokenString, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueState はOAuth連携のstateパラメータ用トークンを発行する。
// nonceは連携を開始したブラウザのCookieにも保存し、コールバックで照合する。
func (i *Issuer) IssueState(ownerKey, nonce string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := stateClaims{
		OwnerKey: ownerKey,
		Nonce:    nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{stateAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// VerifyState はstateトークンを検証し、連携先のオーナーキーとnonceを返す。
func (i *Issuer) VerifyState(state string) (ownerKey, nonce string, err error) {
	claims := &stateClaims{}
	if err := i.parse(state, claims, jwt.WithAudience(stateAudience)); err != nil {
		return "", "", err
	}
	if claims.OwnerKey == "" || claims.Nonce == "" {
		return "", "", ErrInvalidToken
	}
	return claims.OwnerKey, claims.Nonce, nil
}

func (i *Issuer) parse(tokenString string, claims jwt.Claims, opts ...jwt.ParserOption) error {
	opts = append(opts,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpired
		}
		return ErrInvalidToken
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

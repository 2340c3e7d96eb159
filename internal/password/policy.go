// Package password はパスワード強度・メール形式の検証とパスワードハッシュを提供する。
package password

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinLength はパスワードの最小文字数。
const MinLength = 8

// SpecialCharacters は「記号」とみなす文字の集合。
const SpecialCharacters = `!@#$%^&*()_+-=[]{};':"\|,.<>/?`

// 要件ごとのエラーメッセージ。クライアントにそのまま返す。
const (
	MsgTooShort    = "Password must be at least 8 characters long"
	MsgNoSpecial   = "Password must contain at least 1 special character"
	MsgNoDigit     = "Password must contain at least 1 number"
	MsgNoUppercase = "Password must contain at least 1 uppercase letter"
	MsgNoLowercase = "Password must contain at least 1 lowercase letter"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Result はパスワード検証の結果。
type Result struct {
	IsValid bool
	Errors  []string
}

// Validate はパスワードの強度要件をすべて独立に検査する。
// 複数の要件を同時に満たさない場合、それぞれのメッセージを検査順に返す。
func Validate(password string) Result {
	errs := []string{}

	if utf8.RuneCountInString(password) < MinLength {
		errs = append(errs, MsgTooShort)
	}
	if !strings.ContainsAny(password, SpecialCharacters) {
		errs = append(errs, MsgNoSpecial)
	}
	if !strings.ContainsAny(password, "0123456789") {
		errs = append(errs, MsgNoDigit)
	}
	if !strings.ContainsAny(password, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		errs = append(errs, MsgNoUppercase)
	}
	if !strings.ContainsAny(password, "abcdefghijklmnopqrstuvwxyz") {
		errs = append(errs, MsgNoLowercase)
	}

	return Result{
		IsValid: len(errs) == 0,
		Errors:  errs,
	}
}

// ValidateEmail は local@domain.tld 形式かどうかを簡易的に検査する。
// RFC準拠の検証ではない。
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

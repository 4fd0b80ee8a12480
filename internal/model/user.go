// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// メールアドレスがユーザーの同一性を表し、登録後は変更されない。
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string // bcryptハッシュ。レスポンスには含めない
	CreatedAt    time.Time
}

// Identity は認証済みリクエストに紐付くユーザーの識別情報を表す。
// セッションミドルウェアがリクエストコンテキストに注入する。
type Identity struct {
	UserID string
	Email  string
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	Email     string // usersテーブルとJOINして取得する
	ExpiresAt time.Time
	CreatedAt time.Time
}

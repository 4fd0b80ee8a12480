package model

import "time"

// Todo はユーザーが所有するタスクを表す。
// OwnerEmailはサービス層がセッションの識別情報から設定し、クライアント入力は信用しない。
type Todo struct {
	ID         string
	OwnerEmail string
	Text       string
	Completed  bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

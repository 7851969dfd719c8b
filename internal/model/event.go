package model

import "time"

// Event はユーザーが所有するイベントを表す。
// OwnerIDは作成時に認証済みユーザーのIDが割り当てられ、以後不変。
// 閲覧・更新・削除は所有者本人にのみ許可される。
type Event struct {
	ID          string
	OwnerID     string
	Name        string
	Location    string
	Date        time.Time
	Description string // サニタイズ済みHTML
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OwnedBy は指定ユーザーがこのイベントの所有者かどうかを返す。
func (e *Event) OwnedBy(userID string) bool {
	return e.OwnerID == userID
}

package model

import "time"

// タスクのフィールド長の上限（文字数）。
const (
	TaskTitleMaxLength       = 255
	TaskDescriptionMaxLength = 10000
)

// Task はユーザーが所有するToDo項目を表す。
type Task struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	IsDone      bool      `db:"is_done"`
	CreatedAt   time.Time `db:"created_at"`
}

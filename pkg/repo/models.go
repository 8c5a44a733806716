package repo

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/umutdz/dca/pkg/domain"
)

// UserModel is the relational row backing domain.User.
type UserModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Email     string    `gorm:"uniqueIndex;not null"     json:"email"`
	Password  string    `gorm:"not null"                 json:"password"`
	IsActive  bool      `gorm:"not null;default:true"    json:"is_active"`
	CreatedAt time.Time `gorm:"not null"                 json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserModel) TableName() string { return "users" }

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:        u.ID,
		Email:     u.Email,
		Password:  u.Password,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:        m.ID,
		Email:     m.Email,
		Password:  m.Password,
		IsActive:  m.IsActive,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// ChatHistoryModel is the relational row backing domain.ChatRecord.
type ChatHistoryModel struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64          `gorm:"not null;index"           json:"user_id"`
	Question  string         `gorm:"type:text;not null"       json:"question"`
	Answer    string         `gorm:"type:text;not null"       json:"answer"`
	SessionID string         `gorm:"not null;index"           json:"session_id"`
	Meta      datatypes.JSON `gorm:"type:jsonb"               json:"meta,omitempty"`
	CreatedAt time.Time      `gorm:"not null;index"           json:"created_at"`
}

func (ChatHistoryModel) TableName() string { return "chat_history" }

func chatToModel(rec domain.ChatRecord) ChatHistoryModel {
	var meta datatypes.JSON
	if len(rec.Meta) > 0 {
		raw, err := json.Marshal(rec.Meta)
		if err == nil {
			meta = raw
		}
	}
	return ChatHistoryModel{
		ID:        rec.ID,
		UserID:    rec.UserID,
		Question:  rec.Question,
		Answer:    rec.Answer,
		SessionID: rec.SessionID,
		Meta:      meta,
		CreatedAt: rec.CreatedAt,
	}
}

func chatFromModel(m ChatHistoryModel) domain.ChatRecord {
	rec := domain.ChatRecord{
		ID:        m.ID,
		UserID:    m.UserID,
		Question:  m.Question,
		Answer:    m.Answer,
		SessionID: m.SessionID,
		CreatedAt: m.CreatedAt,
	}
	if len(m.Meta) > 0 {
		_ = json.Unmarshal(m.Meta, &rec.Meta)
	}
	return rec
}

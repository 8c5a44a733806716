package domain

import "time"

// User is an identity record stored in the relational store.
// The password field only ever holds a bcrypt hash. API responses use
// PublicUser; User itself is never written to a client.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"password"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PublicUser is the projection exposed to clients. It never carries the hash.
type PublicUser struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	IsActive bool   `json:"is_active"`
}

// Public returns the client-facing projection of the user.
func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Email: u.Email, IsActive: u.IsActive}
}

// TokenPair is an access/refresh token pair issued on login or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// PDFMetadata describes one uploaded document in the document store.
// FileID references the binary content in the blob store.
type PDFMetadata struct {
	ID          string    `json:"id"`
	UserID      int64     `json:"user_id"`
	Filename    string    `json:"filename"`
	Title       string    `json:"title"`
	UploadDate  time.Time `json:"upload_date"`
	FileID      string    `json:"file_id"`
	Parsed      bool      `json:"parsed"`
	TextContent string    `json:"text_content,omitempty"`
}

// SelectedPDF maps a user to their currently selected document.
// At most one per user; writes are upserts.
type SelectedPDF struct {
	UserID    int64     `json:"user_id"`
	PDFID     string    `json:"pdf_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatRecord is one question/answer exchange. Append-only.
// Meta carries optional request attributes such as the answering model
// or whether the answer came from the response cache.
type ChatRecord struct {
	ID        int64             `json:"id"`
	UserID    int64             `json:"user_id"`
	Question  string            `json:"question"`
	Answer    string            `json:"answer"`
	SessionID string            `json:"session_id"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

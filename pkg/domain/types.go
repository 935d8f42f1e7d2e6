package domain

import "time"

// Permission levels. Higher levels include the lower ones.
const (
	PermissionReader   = 0
	PermissionUploader = 1
	PermissionAdmin    = 2
	PermissionOwner    = 3
)

type UserStatus string

const (
	StatusActive   UserStatus = "active"
	StatusDisabled UserStatus = "disabled"
	// StatusPending marks an account created without a password.
	StatusPending UserStatus = "pending"
)

type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	Permission   int        `json:"permission"`
	Status       UserStatus `json:"status"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

type Book struct {
	ID               string    `json:"uuid"`
	Title            string    `json:"title"`
	Creators         []string  `json:"creators,omitempty"`
	Language         string    `json:"language,omitempty"`
	Identifier       string    `json:"identifier,omitempty"`
	OriginalFilename string    `json:"originalFilename"`
	StorageKey       string    `json:"-"`
	SizeBytes        int64     `json:"sizeBytes"`
	UploadedBy       string    `json:"uploadedBy,omitempty"`
	AuthorizedUsers  []string  `json:"-"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// VisibleTo reports whether userID may see the book. An empty authorized
// list makes the book public.
func (b Book) VisibleTo(userID string) bool {
	if len(b.AuthorizedUsers) == 0 {
		return true
	}
	for _, id := range b.AuthorizedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

type BookRef struct {
	ID    string `json:"uuid"`
	Title string `json:"title"`
}

type Collection struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Books     []BookRef `json:"books"`
	CreatedAt time.Time `json:"createdAt"`
}

type Progress struct {
	UserID      string    `json:"-"`
	BookID      string    `json:"bookId"`
	BookTitle   string    `json:"bookTitle,omitempty"`
	Progress    float64   `json:"progress"`
	ProgressStr string    `json:"progressStr"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

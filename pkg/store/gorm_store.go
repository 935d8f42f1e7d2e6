package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"pocketbook/pkg/domain"
)

const migrateLockID int64 = 51806117

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &BookModel{}, &CollectionModel{}, &ProgressModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser inserts a new user; a duplicate username yields ErrUsernameTaken.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrUsernameTaken
		}
		return err
	}
	return nil
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "password_hash", "permission", "status", "updated_at"}),
	}).Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrUsernameTaken
	}
	return err
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	var models []UserModel
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// SaveBook stores or updates a book.
func (s *GormStore) SaveBook(ctx context.Context, b domain.Book) error {
	model, err := bookToModel(b)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "original_filename", "storage_key", "size_bytes",
			"uploaded_by", "metadata", "authorized_users", "updated_at",
		}),
	}).Create(&model).Error
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// DeleteBook removes a book, its progress rows and collection links in one
// transaction.
func (s *GormStore) DeleteBook(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("book_id = ?", id).Delete(&ProgressModel{}).Error; err != nil {
			return err
		}
		// Join table columns follow gorm's many2many naming for CollectionModel.Books.
		if err := tx.Exec("DELETE FROM collection_books WHERE book_model_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&BookModel{}, "id = ?", id).Error
	})
}

// ListBooks returns all books ordered by created_at.
func (s *GormStore) ListBooks(ctx context.Context) ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// CreateCollection inserts a collection and links it to existing books.
func (s *GormStore) CreateCollection(ctx context.Context, c domain.Collection) error {
	model := CollectionModel{ID: c.ID, Name: c.Name, CreatedAt: c.CreatedAt}
	for _, ref := range c.Books {
		model.Books = append(model.Books, BookModel{ID: ref.ID})
	}
	// Books.* keeps GORM from upserting the referenced book rows.
	return s.db.WithContext(ctx).Omit("Books.*").Create(&model).Error
}

// GetCollection returns a collection with its books.
func (s *GormStore) GetCollection(ctx context.Context, id string) (domain.Collection, bool, error) {
	var model CollectionModel
	err := s.db.WithContext(ctx).
		Preload("Books", func(db *gorm.DB) *gorm.DB { return db.Order("book_models.created_at ASC") }).
		First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Collection{}, false, nil
		}
		return domain.Collection{}, false, err
	}
	return collectionFromModel(model), true, nil
}

// ListCollections returns all collections with their books.
func (s *GormStore) ListCollections(ctx context.Context) ([]domain.Collection, error) {
	var models []CollectionModel
	err := s.db.WithContext(ctx).
		Preload("Books", func(db *gorm.DB) *gorm.DB { return db.Order("book_models.created_at ASC") }).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Collection, 0, len(models))
	for _, m := range models {
		res = append(res, collectionFromModel(m))
	}
	return res, nil
}

// GetProgress returns the reading position of one user in one book.
func (s *GormStore) GetProgress(ctx context.Context, userID, bookID string) (domain.Progress, bool, error) {
	var model ProgressModel
	err := s.db.WithContext(ctx).First(&model, "user_id = ? AND book_id = ?", userID, bookID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Progress{}, false, nil
		}
		return domain.Progress{}, false, err
	}
	return progressFromModel(model, ""), true, nil
}

// UpsertProgress stores the position keyed by (user, book).
func (s *GormStore) UpsertProgress(ctx context.Context, p domain.Progress) error {
	model := ProgressModel{
		UserID:      p.UserID,
		BookID:      p.BookID,
		Progress:    p.Progress,
		ProgressStr: p.ProgressStr,
		UpdatedAt:   p.UpdatedAt,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "book_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"progress", "progress_str", "updated_at"}),
	}).Create(&model).Error
}

// ListProgress returns all positions of a user, most recent first, with book titles.
func (s *GormStore) ListProgress(ctx context.Context, userID string) ([]domain.Progress, error) {
	type progressRow struct {
		ProgressModel
		BookTitle string
	}
	var rows []progressRow
	err := s.db.WithContext(ctx).
		Table("progress_models AS p").
		Select("p.user_id, p.book_id, p.progress, p.progress_str, p.updated_at, b.title AS book_title").
		Joins("JOIN book_models AS b ON b.id = p.book_id").
		Where("p.user_id = ?", userID).
		Order("p.updated_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	res := make([]domain.Progress, 0, len(rows))
	for _, r := range rows {
		res = append(res, progressFromModel(r.ProgressModel, r.BookTitle))
	}
	return res, nil
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Permission:   u.Permission,
		Status:       string(u.Status),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	status := domain.UserStatus(m.Status)
	if status == "" {
		status = domain.StatusActive
	}
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		Permission:   m.Permission,
		Status:       status,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) (BookModel, error) {
	meta, err := json.Marshal(bookMetadata{Creators: b.Creators, Language: b.Language, Identifier: b.Identifier})
	if err != nil {
		return BookModel{}, fmt.Errorf("encode book metadata: %w", err)
	}
	authorized := b.AuthorizedUsers
	if authorized == nil {
		authorized = []string{}
	}
	users, err := json.Marshal(authorized)
	if err != nil {
		return BookModel{}, fmt.Errorf("encode authorized users: %w", err)
	}
	return BookModel{
		ID:               b.ID,
		Title:            b.Title,
		OriginalFilename: b.OriginalFilename,
		StorageKey:       b.StorageKey,
		SizeBytes:        b.SizeBytes,
		UploadedBy:       b.UploadedBy,
		Metadata:         meta,
		AuthorizedUsers:  users,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}, nil
}

func bookFromModel(m BookModel) domain.Book {
	var meta bookMetadata
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	var users []string
	if len(m.AuthorizedUsers) > 0 {
		_ = json.Unmarshal(m.AuthorizedUsers, &users)
	}
	return domain.Book{
		ID:               m.ID,
		Title:            m.Title,
		Creators:         meta.Creators,
		Language:         meta.Language,
		Identifier:       meta.Identifier,
		OriginalFilename: m.OriginalFilename,
		StorageKey:       m.StorageKey,
		SizeBytes:        m.SizeBytes,
		UploadedBy:       m.UploadedBy,
		AuthorizedUsers:  users,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func collectionFromModel(m CollectionModel) domain.Collection {
	books := make([]domain.BookRef, 0, len(m.Books))
	for _, b := range m.Books {
		books = append(books, domain.BookRef{ID: b.ID, Title: b.Title})
	}
	return domain.Collection{
		ID:        m.ID,
		Name:      m.Name,
		Books:     books,
		CreatedAt: m.CreatedAt,
	}
}

func progressFromModel(m ProgressModel, title string) domain.Progress {
	return domain.Progress{
		UserID:      m.UserID,
		BookID:      m.BookID,
		BookTitle:   title,
		Progress:    m.Progress,
		ProgressStr: m.ProgressStr,
		UpdatedAt:   m.UpdatedAt,
	}
}

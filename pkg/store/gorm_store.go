package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"bookhaven/pkg/catalog"
	"bookhaven/pkg/domain"
)

const migrateLockID int64 = 51207733

type GormStoreOptions struct {
	MaxOpenConns int
	MaxIdleConns int
}

type GormStoreOption func(*GormStoreOptions)

// WithPoolSize bounds the underlying sql.DB connection pool.
func WithPoolSize(maxOpen, maxIdle int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.MaxOpenConns = maxOpen
		opts.MaxIdleConns = maxIdle
	}
}

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db   *gorm.DB
	inTx bool
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &BookModel{}, &CartLineModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
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

// InTx runs fn in a database transaction; any error rolls it back.
func (s *GormStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, inTx: true})
	})
}

// CreateUser inserts a new user.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
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

// SaveBook stores or updates a book. AddedBy and CreatedAt are kept on update.
func (s *GormStore) SaveBook(ctx context.Context, b domain.Book) error {
	model := bookToModel(b)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "author", "publication_date", "genre", "description",
			"price", "image", "rating", "in_stock",
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

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListBooks returns books matching filter ordered by creation time.
func (s *GormStore) ListBooks(ctx context.Context, filter catalog.Filter) ([]domain.Book, error) {
	tx := s.db.WithContext(ctx)
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		like := "%" + likeEscaper.Replace(search) + "%"
		tx = tx.Where("(LOWER(title) LIKE ? OR LOWER(author) LIKE ? OR LOWER(genre) LIKE ?)", like, like, like)
	}
	if genre := strings.TrimSpace(filter.Genre); genre != "" {
		tx = tx.Where("genre = ?", genre)
	}
	return s.findBooks(tx.Order("created_at ASC").Order("id ASC"))
}

// ListBooksByAddedBy returns books created by email.
func (s *GormStore) ListBooksByAddedBy(ctx context.Context, email string) ([]domain.Book, error) {
	return s.findBooks(s.db.WithContext(ctx).Where("added_by = ?", email).Order("created_at ASC"))
}

// ListNewestBooks returns the most recently created books.
func (s *GormStore) ListNewestBooks(ctx context.Context, limit int) ([]domain.Book, error) {
	return s.findBooks(s.db.WithContext(ctx).Order("created_at DESC").Limit(limit))
}

// ListTopRatedBooks returns the highest rated books.
func (s *GormStore) ListTopRatedBooks(ctx context.Context, limit int) ([]domain.Book, error) {
	return s.findBooks(s.db.WithContext(ctx).Order("rating DESC").Order("created_at DESC").Limit(limit))
}

// ListRelatedBooks returns other books of the same genre.
func (s *GormStore) ListRelatedBooks(ctx context.Context, genre, excludeID string, limit int) ([]domain.Book, error) {
	return s.findBooks(s.db.WithContext(ctx).
		Where("genre = ? AND id <> ?", genre, excludeID).
		Order("created_at ASC").
		Limit(limit))
}

func (s *GormStore) findBooks(tx *gorm.DB) ([]domain.Book, error) {
	var models []BookModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// ListGenres returns distinct non-empty genres in alphabetical order.
func (s *GormStore) ListGenres(ctx context.Context) ([]string, error) {
	var genres []string
	if err := s.db.WithContext(ctx).Model(&BookModel{}).
		Where("genre <> ''").
		Distinct("genre").
		Order("genre ASC").
		Pluck("genre", &genres).Error; err != nil {
		return nil, err
	}
	return genres, nil
}

// DeleteBook removes a book and the cart lines referencing it.
func (s *GormStore) DeleteBook(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&CartLineModel{}, "book_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&BookModel{}, "id = ?", id).Error
	})
}

// ListCartLines returns the user's cart joined with books, newest first.
func (s *GormStore) ListCartLines(ctx context.Context, userID string) ([]domain.CartLine, error) {
	tx := s.db.WithContext(ctx).Preload("Book").Where("user_id = ?", userID)
	if s.inTx {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var models []CartLineModel
	if err := tx.Order("created_at DESC").Order("id DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.CartLine, 0, len(models))
	for _, m := range models {
		res = append(res, cartLineFromModel(m))
	}
	return res, nil
}

// GetCartLine returns the line for (userID, bookID).
func (s *GormStore) GetCartLine(ctx context.Context, userID, bookID string) (domain.CartLine, bool, error) {
	var model CartLineModel
	err := s.db.WithContext(ctx).Preload("Book").
		Where("user_id = ? AND book_id = ?", userID, bookID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.CartLine{}, false, nil
		}
		return domain.CartLine{}, false, err
	}
	return cartLineFromModel(model), true, nil
}

// InsertCartLine creates a line; the (user, book) unique index rejects duplicates.
func (s *GormStore) InsertCartLine(ctx context.Context, line domain.CartLine) error {
	model := cartLineToModel(line)
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateCartLine
		}
		return err
	}
	return nil
}

// UpdateCartLineQuantity is a compare-and-swap on the line version.
func (s *GormStore) UpdateCartLineQuantity(ctx context.Context, line domain.CartLine, quantity int) (domain.CartLine, error) {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&CartLineModel{}).
		Where("id = ? AND version = ?", line.ID, line.Version).
		Updates(map[string]any{
			"quantity":   quantity,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		return domain.CartLine{}, res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&CartLineModel{}).Where("id = ?", line.ID).Count(&count).Error; err != nil {
			return domain.CartLine{}, err
		}
		if count == 0 {
			return domain.CartLine{}, ErrCartLineNotFound
		}
		return domain.CartLine{}, ErrStaleCartLine
	}
	line.Quantity = quantity
	line.Version++
	line.UpdatedAt = now
	return line, nil
}

// DeleteCartLine removes one line and reports whether it existed.
func (s *GormStore) DeleteCartLine(ctx context.Context, userID, bookID string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&CartLineModel{}, "user_id = ? AND book_id = ?", userID, bookID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// DeleteCartLines removes all of a user's lines and returns the count.
func (s *GormStore) DeleteCartLines(ctx context.Context, userID string) (int, error) {
	res := s.db.WithContext(ctx).Delete(&CartLineModel{}, "user_id = ?", userID)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

// CartUserIDsForBook lists users whose carts reference bookID.
func (s *GormStore) CartUserIDsForBook(ctx context.Context, bookID string) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&CartLineModel{}).
		Where("book_id = ?", bookID).
		Distinct("user_id").
		Pluck("user_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

package store

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"bookhaven/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Username     string    `gorm:"not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

type BookModel struct {
	ID              string          `gorm:"primaryKey"`
	Title           string          `gorm:"size:500;not null"`
	Author          string          `gorm:"size:255"`
	PublicationDate datatypes.Date  `gorm:"not null"`
	Genre           string          `gorm:"size:255;index"`
	Description     string          `gorm:"type:text"`
	Price           decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	Image           string          `gorm:"type:text"`
	Rating          float64         `gorm:"not null;default:0"`
	InStock         bool            `gorm:"not null"`
	AddedBy         string          `gorm:"size:255;index"`
	CreatedAt       time.Time       `gorm:"not null;index"`
}

type CartLineModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_cart_user_book,priority:1"`
	BookID    string    `gorm:"not null;uniqueIndex:idx_cart_user_book,priority:2;index"`
	Quantity  int       `gorm:"not null;check:quantity >= 1"`
	Version   int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`

	User UserModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Book BookModel `gorm:"foreignKey:BookID;constraint:OnDelete:CASCADE"`
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         domain.UserRole(m.Role),
		CreatedAt:    m.CreatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		PublicationDate: datatypes.Date(b.PublicationDate.Time),
		Genre:           b.Genre,
		Description:     b.Description,
		Price:           b.Price,
		Image:           b.Image,
		Rating:          b.Rating,
		InStock:         b.InStock,
		AddedBy:         b.AddedBy,
		CreatedAt:       b.CreatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:              m.ID,
		Title:           m.Title,
		Author:          m.Author,
		PublicationDate: domain.NewDate(time.Time(m.PublicationDate)),
		Genre:           m.Genre,
		Description:     m.Description,
		Price:           m.Price,
		Image:           m.Image,
		Rating:          m.Rating,
		InStock:         m.InStock,
		AddedBy:         m.AddedBy,
		CreatedAt:       m.CreatedAt,
	}
}

func cartLineToModel(l domain.CartLine) CartLineModel {
	return CartLineModel{
		ID:        l.ID,
		UserID:    l.UserID,
		BookID:    l.BookID,
		Quantity:  l.Quantity,
		Version:   l.Version,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
}

func cartLineFromModel(m CartLineModel) domain.CartLine {
	return domain.CartLine{
		ID:        m.ID,
		UserID:    m.UserID,
		BookID:    m.BookID,
		Quantity:  m.Quantity,
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Book:      bookFromModel(m.Book),
	}
}

package models

import (
	"time"

	"gorm.io/gorm"
)

// Price is a purchasable subscription tier
type Price struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name    string   `gorm:"type:varchar(255);not null" json:"name"`
	Slug    string   `gorm:"type:varchar(255);uniqueIndex;not null" json:"slug"`
	Details []string `gorm:"serializer:json" json:"details"`
	Months  int      `gorm:"not null" json:"months"`
	Price   int64    `gorm:"not null" json:"price"`
}

// DefaultPrices are the tiers seeded into an empty database
func DefaultPrices() []Price {
	return []Price{
		{
			Name:    "Per Bulan",
			Slug:    "per-bulan",
			Details: []string{"Akses semua kelas selama 1 bulan", "Sertifikat kelulusan"},
			Months:  1,
			Price:   100000,
		},
		{
			Name:    "Setengah Tahun",
			Slug:    "setengah-tahun",
			Details: []string{"Akses semua kelas selama 6 bulan", "Sertifikat kelulusan", "Hemat 100 ribu"},
			Months:  6,
			Price:   500000,
		},
		{
			Name:    "Per Tahun",
			Slug:    "per-tahun",
			Details: []string{"Akses semua kelas selama 12 bulan", "Sertifikat kelulusan", "Hemat 400 ribu"},
			Months:  12,
			Price:   800000,
		},
	}
}

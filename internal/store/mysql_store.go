package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/evyataryagoni/geoquery/internal/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// IPLocationModel is the GORM model for the ip2location table
type IPLocationModel struct {
	IP          string  `gorm:"column:ip;primaryKey"`
	City        string  `gorm:"column:city"`
	Country     string  `gorm:"column:country"`
	CountryCode string  `gorm:"column:country_code"`
	Region      string  `gorm:"column:region"`
	Latitude    float64 `gorm:"column:latitude"`
	Longitude   float64 `gorm:"column:longitude"`
	Timezone    string  `gorm:"column:timezone"`
	PostalCode  string  `gorm:"column:postal_code"`
	ISP         string  `gorm:"column:isp"`
	ASN         uint    `gorm:"column:asn"`
}

// TableName overrides GORM's pluralized default
func (IPLocationModel) TableName() string {
	return "ip2location"
}

// toLocation converts the row into the domain model
func (m IPLocationModel) toLocation() *models.Location {
	return &models.Location{
		City:        m.City,
		Country:     m.Country,
		CountryCode: m.CountryCode,
		Region:      m.Region,
		Latitude:    m.Latitude,
		Longitude:   m.Longitude,
		Timezone:    m.Timezone,
		PostalCode:  m.PostalCode,
		ISP:         m.ISP,
		ASN:         m.ASN,
	}
}

// MySQLStore implements Store using MySQL with GORM
type MySQLStore struct {
	db *gorm.DB
}

// NewMySQLStore creates a new MySQL store using GORM
//
// dsn format: user:password@tcp(host:port)/dbname?parseTime=true
//
// maxOpenConns should be at least the worker pool size so that workers never
// queue on the connection pool behind each other.
func NewMySQLStore(dsn string, maxOpenConns int) (*MySQLStore, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(mysql.Open(dsn), config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL with GORM: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	if maxOpenConns <= 0 {
		maxOpenConns = 25
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxOpenConns)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping MySQL database: %w", err)
	}

	return &MySQLStore{db: db}, nil
}

// FindByIP looks up an IP address; the query is cancelled with ctx
func (s *MySQLStore) FindByIP(ctx context.Context, ip string) (*models.Location, error) {
	var record IPLocationModel

	// SELECT * FROM ip2location WHERE ip = ? ORDER BY ip LIMIT 1
	result := s.db.WithContext(ctx).Where("ip = ?", ip).First(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database query failed: %w", result.Error)
	}

	return record.toLocation(), nil
}

// Close closes the database connection
func (s *MySQLStore) Close() error {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

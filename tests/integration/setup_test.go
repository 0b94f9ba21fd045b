package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gharti/bike-market/internal/config"
	"github.com/gharti/bike-market/internal/market"
	"github.com/gharti/bike-market/internal/metrics"
	"github.com/gharti/bike-market/internal/models"
	"github.com/gharti/bike-market/internal/store"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	if err := runMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

func runMigrations(db *sql.DB) error {
	migrationDir := "../../migrations"
	files, err := os.ReadDir(migrationDir)
	if err != nil {
		return fmt.Errorf("read migration directory: %w", err)
	}

	var migrationFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".up.sql") {
			migrationFiles = append(migrationFiles, file.Name())
		}
	}

	sort.Strings(migrationFiles)

	for _, filename := range migrationFiles {
		filePath := filepath.Join(migrationDir, filename)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("read migration file %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", filename, err)
		}
	}

	return nil
}

func testMarketConfig() config.MarketConfig {
	return config.MarketConfig{
		TaxRate:                 decimal.RequireFromString("0.05"),
		ShippingBaseCost:        decimal.NewFromInt(100),
		ShippingRemoteSurcharge: decimal.NewFromInt(150),
		RemoteCounties:          []string{"Penghu", "Kinmen"},
		PaymentDeadline:         72 * time.Hour,
		SweepInterval:           time.Minute,
		BankName:                "Test Bank",
		BankAccount:             "000-111-222333",
		BankAccountHolder:       "Test Escrow",
	}
}

func newTestService(db *sql.DB) (*market.Service, *metrics.InMemoryRecorder) {
	recorder := metrics.NewInMemoryRecorder()
	return market.NewService(db, testMarketConfig(), nil, nil, recorder), recorder
}

// newExpiringService builds a service whose orders expire immediately, for
// sweeper tests.
func newExpiringService(db *sql.DB) *market.Service {
	cfg := testMarketConfig()
	cfg.PaymentDeadline = -time.Minute
	return market.NewService(db, cfg, nil, nil, nil)
}

var userSeq int64

func createTestUser(t *testing.T, db *sql.DB, name string, isAdmin bool) *models.User {
	t.Helper()
	userSeq++
	user, err := store.CreateUser(context.Background(), db,
		fmt.Sprintf("%s-%d@example.com", strings.ToLower(name), userSeq), name, isAdmin)
	if err != nil {
		t.Fatalf("Create user %s: %v", name, err)
	}
	return user
}

// createAvailableBicycle submits a listing for the seller and approves it
// as admin, leaving it open for offers.
func createAvailableBicycle(t *testing.T, db *sql.DB, svc *market.Service, seller *models.User, price int64) *models.Bicycle {
	t.Helper()
	ctx := context.Background()

	bicycle, err := svc.SubmitListing(ctx, seller.ID, "Road bike", "Well maintained", decimal.NewFromInt(price))
	if err != nil {
		t.Fatalf("Submit listing: %v", err)
	}

	admin := createTestUser(t, db, "Admin", true)
	bicycle, err = svc.ApproveListing(ctx, admin, bicycle.ID)
	if err != nil {
		t.Fatalf("Approve listing: %v", err)
	}
	if bicycle.Status != models.BicycleStatusAvailable {
		t.Fatalf("Expected bicycle available, got %s", bicycle.Status)
	}
	return bicycle
}

func bicycleStatus(t *testing.T, db *sql.DB, id int64) models.BicycleStatus {
	t.Helper()
	b, err := store.GetBicycle(context.Background(), db, id)
	if err != nil {
		t.Fatalf("Get bicycle %d: %v", id, err)
	}
	return b.Status
}

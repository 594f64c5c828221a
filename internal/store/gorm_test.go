package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"gianconstruction/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

func newMockGormStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{Conn: db, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent),
		TranslateError:         true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open gorm: %v", err)
	}
	return NewGormStore(gdb), mock
}

func TestGormStore_FindAccountByEmail(t *testing.T) {
	s, mock := newMockGormStore(t)

	rows := sqlmock.NewRows([]string{"id", "email", "role", "is_active"}).
		AddRow("id-1", "a@test.com", "admin", true)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `accounts` WHERE email = ?")).WillReturnRows(rows)

	got, err := s.FindAccountByEmail(context.Background(), "a@test.com")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != "id-1" || got.Role != model.RoleAdmin {
		t.Fatalf("unexpected account %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGormStore_FindMissing(t *testing.T) {
	s, mock := newMockGormStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `accounts` WHERE email = ?")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := s.FindAccountByEmail(context.Background(), "nobody@test.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGormStore_InsertDuplicate(t *testing.T) {
	s, mock := newMockGormStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `accounts`")).
		WillReturnError(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry 'a@test.com' for key 'idx_accounts_email'"})

	err := s.InsertAccount(context.Background(), &model.Account{ID: "id-2", Email: "a@test.com", Role: model.RoleStandard})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestGormStore_DeleteMissing(t *testing.T) {
	s, mock := newMockGormStore(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM `accounts`")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.DeleteAccount(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

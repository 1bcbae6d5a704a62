package db_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"rejudge/internal/common/db"

	"github.com/go-sql-driver/mysql"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "deadlock", err: &mysql.MySQLError{Number: 1213}, want: true},
		{name: "lock wait timeout", err: &mysql.MySQLError{Number: 1205}, want: true},
		{name: "wrapped deadlock", err: fmt.Errorf("attach submission: %w", &mysql.MySQLError{Number: 1213}), want: true},
		{name: "duplicate key", err: &mysql.MySQLError{Number: 1062}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "nil", err: nil, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := db.IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsNoRows(t *testing.T) {
	if !db.IsNoRows(fmt.Errorf("get rejudging: %w", sql.ErrNoRows)) {
		t.Error("wrapped sql.ErrNoRows should be detected")
	}
	if db.IsNoRows(errors.New("other")) {
		t.Error("other errors are not no-rows")
	}
}

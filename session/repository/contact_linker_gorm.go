package repository

import (
	"context"
	"fmt"
	"regexp"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ContactLinkerGorm resolves linked contact ids from a CRM contacts table that
// lives in the same database. Read only.
type ContactLinkerGorm struct {
	db          *gorm.DB
	table       string
	idColumn    string
	phoneColumn string
}

// NewContactLinkerGorm checks the identifiers since they come from
// configuration and end up in SQL.
func NewContactLinkerGorm(db *gorm.DB, table, idColumn, phoneColumn string) (*ContactLinkerGorm, error) {
	for _, name := range []string{table, idColumn, phoneColumn} {
		if !identifierPattern.MatchString(name) {
			return nil, fmt.Errorf("invalid sql identifier %q", name)
		}
	}
	return &ContactLinkerGorm{db: db, table: table, idColumn: idColumn, phoneColumn: phoneColumn}, nil
}

// FindContactID matches the bare digits address, with or without a leading +.
func (l *ContactLinkerGorm) FindContactID(ctx context.Context, address string) (string, bool, error) {
	if address == "" {
		return "", false, nil
	}
	var ids []string
	err := l.db.WithContext(ctx).
		Table(l.table).
		Where(clause.IN{Column: clause.Column{Name: l.phoneColumn}, Values: []any{address, "+" + address}}).
		Limit(1).
		Pluck(l.idColumn, &ids).Error
	if err != nil {
		return "", false, err
	}
	if len(ids) == 0 || ids[0] == "" {
		return "", false, nil
	}
	return ids[0], true, nil
}

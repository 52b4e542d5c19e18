package storage

import (
	"embed"
	"fmt"
	"io/fs"
	"slices"
	"strings"
)

//go:embed migrations/*
var migrationsFS embed.FS

func (p *ProviderSQL) Migrate() {
	migrationsDir, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		p.logger.Error("failed to get embedded migrations directory", "error", err)
		return
	}
	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		p.logger.Error("failed to read migrations directory", "error", err)
		return
	}
	names := make([]string, 0, len(files))
	for _, file := range files {
		if strings.HasSuffix(file.Name(), ".up.sql") {
			names = append(names, file.Name())
		}
	}
	slices.Sort(names)
	for _, name := range names {
		if err := p.executeMigration(migrationsDir, name); err != nil {
			p.logger.Error("failed to execute migration", "file", name, "error", err)
			return
		}
	}
	p.logger.Debug("migrations applied", "count", len(names))
}

func (p *ProviderSQL) executeMigration(migrationsDir fs.FS, fileName string) error {
	migrationContent, err := fs.ReadFile(migrationsDir, fileName)
	if err != nil {
		return fmt.Errorf("failed to read migration file %s: %w", fileName, err)
	}
	return p.executeSQL(migrationContent)
}

func (p *ProviderSQL) executeSQL(sqlContent []byte) error {
	if _, err := p.db.Exec(string(sqlContent)); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

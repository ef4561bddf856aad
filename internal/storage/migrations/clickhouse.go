package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	chstore "vault-keeper/internal/storage/clickhouse"
)

// RunClickhouseMigrations ensures the database named in dsn exists and applies
// all embedded SQL files. ClickHouse migrations must be idempotent (IF NOT EXISTS).
// Returns a connection to the target database for reuse.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	cfg, err := chstore.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("clickhouse dsn missing database")
	}

	adminConn, err := chstore.Open(ctx, cfg.WithDatabase("default"))
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	if err := adminConn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Database)); err != nil {
		adminConn.Close()
		return nil, fmt.Errorf("create database %s: %w", cfg.Database, err)
	}
	if err := adminConn.Close(); err != nil {
		return nil, fmt.Errorf("close admin connection: %w", err)
	}

	conn, err := chstore.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}

	if err := ApplyClickhouse(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// ApplyClickhouse runs every embedded ClickHouse statement on conn.
func ApplyClickhouse(ctx context.Context, conn *chstore.Conn) error {
	files, err := listMigrations(ClickhouseFS, "clickhouse")
	if err != nil {
		return err
	}

	for _, file := range files {
		data, err := fs.ReadFile(ClickhouseFS, "clickhouse/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		if err := validateNoSemicolonInStrings(string(data)); err != nil {
			return fmt.Errorf("validate migration %s: %w", file, err)
		}

		// The driver does not accept multi-statement Exec.
		for _, stmt := range splitStatements(string(data)) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", file, err)
			}
		}
	}
	return nil
}

// splitStatements splits SQL content into statements on semicolons after dropping
// blank lines and -- comments. Semicolons inside string literals are not supported;
// validateNoSemicolonInStrings rejects them first.
func splitStatements(input string) []string {
	var filtered []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		filtered = append(filtered, line)
	}

	var stmts []string
	for _, part := range strings.Split(strings.Join(filtered, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// validateNoSemicolonInStrings rejects SQL with a semicolon inside a single-quoted literal.
func validateNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if inString && i+1 < len(sql) && sql[i+1] == '\'' {
				i++ // escaped quote
				continue
			}
			inString = !inString
		case ';':
			if inString {
				return fmt.Errorf("semicolon inside string literal at offset %d", i)
			}
		}
	}
	return nil
}

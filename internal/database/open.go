package database

import "fmt"

// Open returns the Store for the named driver: "sqlite" (path), "postgres" (dsn) or "memory".
func Open(driver, path, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		return New(path)
	case "postgres", "postgresql":
		if dsn == "" {
			return nil, fmt.Errorf("postgres driver requires a dsn")
		}
		return NewPostgres(dsn)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

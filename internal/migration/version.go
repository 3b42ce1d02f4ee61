package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

// Fingerprint identifies the schema the binary was built with.
type Fingerprint struct {
	Version  uint
	Checksum string
}

// SchemaFingerprint reads the embedded up migrations. Versions must run
// 1..N with no gaps or repeats, since golang-migrate would otherwise apply a
// partial schema without complaint.
func SchemaFingerprint() (Fingerprint, error) {
	names, err := upMigrations()
	if err != nil {
		return Fingerprint{}, err
	}
	if len(names) == 0 {
		return Fingerprint{}, fmt.Errorf("no embedded migrations in %s", migrationsDir)
	}

	hasher := sha256.New()
	var expected uint = 1
	for _, name := range names {
		version, ok := parseMigrationVersion(name)
		if !ok {
			return Fingerprint{}, fmt.Errorf("invalid migration filename: %s", name)
		}
		if version != expected {
			return Fingerprint{}, fmt.Errorf("migration %s: want version %d, got %d", name, expected, version)
		}
		expected++

		content, err := embeddedMigrations.ReadFile(migrationsDir + "/" + name)
		if err != nil {
			return Fingerprint{}, fmt.Errorf("read migration %s: %w", name, err)
		}
		_, _ = hasher.Write([]byte(name))
		_, _ = hasher.Write([]byte{0})
		_, _ = hasher.Write(content)
		_, _ = hasher.Write([]byte{0})
	}

	return Fingerprint{
		Version:  expected - 1,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// upMigrations lists the .up.sql files ordered by version.
func upMigrations() ([]string, error) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := strings.TrimSpace(entry.Name())
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		vi, _ := parseMigrationVersion(names[i])
		vj, _ := parseMigrationVersion(names[j])
		if vi != vj {
			return vi < vj
		}
		return names[i] < names[j]
	})
	return names, nil
}

func parseMigrationVersion(name string) (uint, bool) {
	prefix, _, found := strings.Cut(name, "_")
	if !found {
		return 0, false
	}
	parsed, err := strconv.ParseUint(strings.TrimSpace(prefix), 10, 64)
	if err != nil || parsed == 0 {
		return 0, false
	}
	return uint(parsed), true
}

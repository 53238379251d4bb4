package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/erp/invoicing/internal/bootstrap"
	"github.com/erp/invoicing/internal/infrastructure/config"
	"github.com/erp/invoicing/internal/infrastructure/logger"
	"github.com/erp/invoicing/internal/infrastructure/migration"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const usage = `Usage: migrate [-migrations dir] [-yes] <command> [args]

  status              applied version, dirty flag and pending files (JSON)
  up                  apply every pending file
  step <n>            apply n files; negative n rolls back
  goto <version>      move to exactly version
  down                roll back everything (needs -yes)
  force <version>     mark version applied without running it (needs -yes)
  new <title> [desc]  scaffold an up/down pair

The database comes from the ERP_DATABASE_* settings and must be PostgreSQL.
`

// schemaCommand runs against an open migrator
type schemaCommand struct {
	args        int
	destructive bool
	run         func(m *migration.Migrator, files []migration.File, args []string) error
}

var commands = map[string]schemaCommand{
	"status": {run: status},
	"up": {run: func(m *migration.Migrator, _ []migration.File, _ []string) error {
		return m.Up()
	}},
	"step": {args: 1, run: func(m *migration.Migrator, _ []migration.File, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil || n == 0 {
			return fmt.Errorf("step count must be a non-zero integer, got %q", args[0])
		}
		return m.Steps(n)
	}},
	"goto": {args: 1, run: func(m *migration.Migrator, files []migration.File, args []string) error {
		v, err := knownVersion(files, args[0])
		if err != nil {
			return err
		}
		return m.GoTo(v)
	}},
	"down": {destructive: true, run: func(m *migration.Migrator, _ []migration.File, _ []string) error {
		return m.Down()
	}},
	"force": {args: 1, destructive: true, run: func(m *migration.Migrator, files []migration.File, args []string) error {
		v, err := knownVersion(files, args[0])
		if err != nil {
			return err
		}
		return m.Force(int(v))
	}},
}

func main() {
	var (
		dir string
		yes bool
	)
	flag.StringVar(&dir, "migrations", bootstrap.DefaultMigrationsPath, "Path to the SQL migrations directory")
	flag.BoolVar(&yes, "yes", false, "Confirm down and force")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()
	log = log.With(zap.String("command", args[0]), zap.String("migrations", dir))

	if args[0] == "new" {
		if len(args) < 2 {
			log.Fatal("new needs a title")
		}
		f, err := migration.Scaffold(dir, args[1], strings.Join(args[2:], " "), time.Now())
		if err != nil {
			log.Fatal("Failed to scaffold migration", zap.Error(err))
		}
		log.Info("Migration scaffolded", zap.String("file", f.Base()))
		return
	}

	cmd, ok := commands[args[0]]
	switch {
	case !ok:
		flag.Usage()
		os.Exit(2)
	case len(args)-1 < cmd.args:
		log.Fatal("Missing argument", zap.Int("expected", cmd.args))
	case cmd.destructive && !yes:
		log.Fatal("Refusing to change the schema history without -yes")
	case cfg.Database.Driver != "postgres":
		log.Fatal("Versioned migrations run on PostgreSQL only; SQLite schemas come from the models at startup",
			zap.String("driver", cfg.Database.Driver))
	}

	files, err := migration.Catalog(dir)
	if err != nil {
		log.Fatal("Failed to read migrations", zap.Error(err))
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatal("Database is unreachable", zap.Error(err))
	}

	m, err := migration.New(db, dir, log)
	if err != nil {
		log.Fatal("Failed to prepare migrator", zap.Error(err))
	}
	defer m.Close()

	if err := cmd.run(m, files, args[1:]); err != nil {
		log.Fatal("Migration failed", zap.Error(err))
	}
}

func status(m *migration.Migrator, files []migration.File, _ []string) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	pending := []string{}
	for _, f := range migration.Pending(files, version) {
		pending = append(pending, f.Base())
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"version": version,
		"dirty":   dirty,
		"pending": pending,
	})
}

// knownVersion parses raw and requires a file with that version
func knownVersion(files []migration.File, raw string) (uint, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("version must be a number, got %q", raw)
	}
	for _, f := range files {
		if f.Version == uint(v) {
			return f.Version, nil
		}
	}
	return 0, errors.New("no migration file has version " + raw)
}

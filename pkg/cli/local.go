package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rampart/pkg/audit"
	"github.com/platinummonkey/rampart/pkg/database"
	"github.com/platinummonkey/rampart/pkg/observability"
	"github.com/platinummonkey/rampart/pkg/rbac"
	"github.com/platinummonkey/rampart/pkg/seed"
)

// dbFlags are shared by the commands that open the database directly
type dbFlags struct {
	url    *string
	driver *string
}

func addDBFlags(fs *flag.FlagSet, e *env) *dbFlags {
	return &dbFlags{
		url:    fs.String("database-url", e.envOr("RAMPART_DATABASE_URL", "rampart.db"), "Database URL or SQLite file"),
		driver: fs.String("driver", e.getenv("RAMPART_DATABASE_DRIVER"), "postgres or sqlite3; guessed from the URL when empty"),
	}
}

// open connects and applies pending migrations
func (f *dbFlags) open(ctx context.Context, logger *observability.Logger) (*sql.DB, error) {
	driver := *f.driver
	if driver == "" {
		driver = database.DriverFor(*f.url)
	}
	db, err := database.Open(ctx, database.Config{Driver: driver, URL: *f.url})
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db, driver, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// migrationLogger bridges migration progress onto stderr at the CLI's level
func (e *env) migrationLogger() *observability.Logger {
	return observability.NewLogger(observability.ParseLevel(e.logger.GetLevel().String()), os.Stderr)
}

func newMigrateCommand(e *env) *Command {
	cmd := &Command{
		Name:        "migrate",
		Description: "Apply pending database migrations",
		Flags:       newFlagSet("migrate", e),
	}
	dbf := addDBFlags(cmd.Flags, e)

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}

		ctx := context.Background()
		db, err := dbf.open(ctx, e.migrationLogger())
		if err != nil {
			return err
		}
		defer db.Close()

		versions, err := database.AppliedVersions(ctx, db)
		if err != nil {
			return err
		}
		e.logger.WithField("versions", len(versions)).Info("database is up to date")
		return e.print(map[string][]int{"applied": versions})
	}
	return cmd
}

func newSeedCommand(e *env) *Command {
	cmd := &Command{
		Name:        "seed",
		Description: "Load roles, permissions and assignments from a YAML file",
		Flags:       newFlagSet("seed", e),
	}
	dbf := addDBFlags(cmd.Flags, e)
	file := cmd.Flags.String("file", e.getenv("RAMPART_SEED_FILE"), "Seed file")
	guard := cmd.Flags.String("guard", e.envOr("RAMPART_GUARD", rbac.DefaultGuard), "Guard to seed")
	watch := cmd.Flags.Bool("watch", false, "Keep running and re-apply the file whenever it changes")
	record := cmd.Flags.Bool("audit", true, "Record new assignments in the audit log")

	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if *file == "" {
			return fmt.Errorf("file is required")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := e.migrationLogger()
		db, err := dbf.open(ctx, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		store := rbac.NewStore(db).WithGuard(*guard)
		assignments := rbac.NewAssignmentManager(store).WithLogger(logger)
		if *record {
			auditLog, err := audit.NewDBLogger(db)
			if err != nil {
				return err
			}
			assignments.WithAuditor(audit.NewTrail(auditLog, logger))
		}
		apply := func(ctx context.Context, f *seed.File) error {
			res, err := seed.Apply(ctx, store, assignments, f)
			if err != nil {
				return err
			}
			e.logger.WithFields(logrus.Fields{
				"permissions": res.Permissions,
				"roles":       res.Roles,
				"assignments": res.Assignments,
			}).Info("seed applied")
			return e.print(res)
		}

		f, err := seed.Load(*file)
		if err != nil {
			return err
		}
		if err := apply(ctx, f); err != nil {
			return err
		}

		if !*watch {
			return nil
		}
		return seed.NewWatcher(*file, apply, logger).Run(ctx)
	}
	return cmd
}

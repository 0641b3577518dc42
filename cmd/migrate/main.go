package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/netcomp-backend/pkg/compplan"
	"github.com/angelmondragon/netcomp-backend/pkg/config"
	"github.com/angelmondragon/netcomp-backend/pkg/db"
	"github.com/angelmondragon/netcomp-backend/pkg/logger"
	"github.com/angelmondragon/netcomp-backend/pkg/migrate"
)

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "up|down|status|version|create|validate|publish-plan")
	dir := flag.String("dir", migrate.DefaultDir, "goose migrations directory")
	name := flag.String("name", "", "migration name for -cmd=create")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	planFile := flag.String("plan", "", "compensation plan file (yaml, json or toml) for -cmd=publish-plan")
	flag.Parse()

	// create and validate work on files only
	switch *cmd {
	case "create":
		if *name == "" {
			fail("missing -name for create", nil)
		}
		path, err := migrate.CreateSQLMigration(*dir, *name)
		if err != nil {
			fail("create migration", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.ValidateDir(*dir); err != nil {
			fail("migration validation", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fail("load config", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       cfg.App.LogLevel,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
		"dir": *dir,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		fail("connect database", err)
	}
	defer dbClient.Close()

	if *cmd == "publish-plan" {
		publishPlan(ctx, dbClient, firstNonEmpty(*planFile, cfg.Plan.File))
		return
	}

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		fail("sql database", err)
	}
	runner, err := migrate.NewRunner(sqlDB, *dir, logg)
	if err != nil {
		fail("prepare migrations", err)
	}

	switch *cmd {
	case "up":
		err = runner.Up(ctx)
	case "down":
		err = runner.Down(ctx)
	case "version":
		if *version == "" {
			fail("missing -version for version command", nil)
		}
		err = runner.To(ctx, *version)
	case "status":
		err = printStatus(ctx, runner)
	default:
		fail("unknown -cmd value "+*cmd, nil)
	}
	if err != nil {
		fail(*cmd, err)
	}
}

func publishPlan(ctx context.Context, client *db.Client, path string) {
	if path == "" {
		fail("missing -plan for publish-plan", nil)
	}
	plan, err := compplan.LoadFile(path)
	if err != nil {
		fail("load plan", err)
	}
	if err := compplan.NewRepository(client.DB()).Publish(ctx, plan); err != nil {
		fail("publish plan", err)
	}
	fmt.Printf("published compensation plan v%d (%s)\n", plan.Version, plan.Name)
}

func printStatus(ctx context.Context, runner *migrate.Runner) error {
	statuses, err := runner.Status(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT\tFILE")
	for _, st := range statuses {
		applied := "-"
		if !st.AppliedAt.IsZero() {
			applied = st.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", st.Source.Version, st.State, applied, st.Source.Path)
	}
	return tw.Flush()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func fail(step string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", step, err)
	} else {
		fmt.Fprintln(os.Stderr, step)
	}
	os.Exit(1)
}

// Command seedfeeds bulk-loads a feed catalog from an OPML file into the
// scheduler's repository, giving Repo.UpsertFeedsBulk (spec.md §6.1) a
// concrete caller. It also supports exporting the current catalog back
// to OPML via -export, mirroring the teacher's import/export API pair
// (internal/server/server.go's handleImportOPML/handleExportOPML) as a
// standalone CLI instead of HTTP handlers, since the scheduler has no
// user-facing HTTP API (spec.md Non-goals). -opml and -export are
// mutually exclusive: each run either imports or exports, never both.
package main

import (
	"context"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bryan-buckman/feedscheduler/internal/config"
	"github.com/bryan-buckman/feedscheduler/internal/model"
	"github.com/bryan-buckman/feedscheduler/internal/opml"
	"github.com/bryan-buckman/feedscheduler/internal/ports"
	"github.com/bryan-buckman/feedscheduler/internal/repo"
)

func main() {
	log := logrus.New()

	opmlPath := flag.String("opml", "", "path to an OPML file to import")
	exportPath := flag.String("export", "", "write the current catalog to this OPML path instead of importing")
	chunkSize := flag.Int("chunk-size", 200, "rows per UpsertFeedsBulk transaction")
	flag.Parse()

	if (*opmlPath == "") == (*exportPath == "") {
		log.Fatal("usage: seedfeeds -opml catalog.xml | seedfeeds -export catalog.xml")
	}

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	db, err := openRepo(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to open repository")
	}
	defer db.Close()

	if *exportPath != "" {
		runExport(log, db, cfg, *exportPath)
		return
	}

	f, err := os.Open(*opmlPath)
	if err != nil {
		log.WithError(err).Fatal("failed to open OPML file")
	}
	defer f.Close()

	entries, err := opml.Parse(f)
	if err != nil {
		log.WithError(err).Fatal("failed to parse OPML")
	}
	feeds := opml.ToFeedConfigs(entries, cfg.DefaultPollSeconds)

	if err := db.UpsertFeedsBulk(context.Background(), feeds, *chunkSize, cfg.Timezone); err != nil {
		log.WithError(err).Fatal("failed to upsert feeds")
	}

	log.WithField("count", len(feeds)).Info("seeded feed catalog")
}

// feedLister is the read-side the export path needs. It's not part of
// ports.Repo — spec.md §6.1 fixes that interface's method set to the six
// methods the scheduler core itself calls — so it's a narrow interface
// local to this command, satisfied by both concrete repo.sqlRepo-backed
// types via type assertion on repoCloser.
type feedLister interface {
	AllFeeds(ctx context.Context) ([]model.FeedConfig, error)
}

func runExport(log logrus.FieldLogger, db repoCloser, cfg config.AppConfig, path string) {
	lister, ok := db.(feedLister)
	if !ok {
		log.Fatal("repository backend does not support catalog export")
	}
	feeds, err := lister.AllFeeds(context.Background())
	if err != nil {
		log.WithError(err).Fatal("failed to read feed catalog")
	}

	entries := make([]opml.FeedEntry, 0, len(feeds))
	for _, fc := range feeds {
		entries = append(entries, opml.FeedEntry{URL: fc.URL, Title: fc.URL})
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.WithError(err).Fatal("invalid configured timezone")
	}
	out, err := opml.Export("feedscheduler catalog", map[string][]opml.FeedEntry{"": entries}, loc)
	if err != nil {
		log.WithError(err).Fatal("failed to encode OPML")
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		log.WithError(err).Fatal("failed to write OPML file")
	}

	log.WithField("count", len(feeds)).Info("exported feed catalog")
}

// repoCloser is the subset of the two concrete repo types this command
// needs: the ports.Repo write it performs, plus Close for cleanup.
type repoCloser interface {
	ports.Repo
	Close() error
}

// openRepo mirrors cmd/scheduler's DB-URL-scheme dispatch; duplicated
// rather than shared because this version returns no backend name and
// never deletes the SQLite file in dev mode.
func openRepo(cfg config.AppConfig) (repoCloser, error) {
	if cfg.DBURL != "" {
		switch {
		case strings.HasPrefix(cfg.DBURL, "postgres://"), strings.HasPrefix(cfg.DBURL, "postgresql://"):
			return repo.NewPostgres(cfg.DBURL)
		case strings.HasPrefix(cfg.DBURL, "sqlite://"):
			return repo.NewSQLite(strings.TrimPrefix(cfg.DBURL, "sqlite://"))
		}
	}
	return repo.NewSQLite(cfg.DBPath)
}

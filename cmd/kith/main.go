package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/kithlabs/kith/internal/config"
	"github.com/kithlabs/kith/internal/engine"
	"github.com/kithlabs/kith/internal/registry"
	"github.com/kithlabs/kith/internal/resolver"
	"github.com/kithlabs/kith/internal/storage"
	"github.com/kithlabs/kith/internal/storage/postgres"
	"github.com/kithlabs/kith/internal/storage/sqlite"
	"github.com/kithlabs/kith/pkg/types"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "kith",
		Usage:   "Relationship intelligence over your digital footprint",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "thresholds",
				Aliases: []string{"t"},
				Usage:   "Overlay analytics thresholds from `FILE`",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			personCommand(),
			resolveCommand(),
			recordCommand(),
			scoreCommand(),
			discoverCommand(),
			anomaliesCommand(),
			mergeCommand(),
			integrityCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and wires the registry, ledger store, and
// engine. The returned cleanup closes the store.
func bootstrap(c *cli.Context) (*engine.Engine, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	if path := c.String("thresholds"); path != "" {
		if err := cfg.LoadThresholds(path); err != nil {
			return nil, nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	level := zerolog.InfoLevel
	if c.Bool("verbose") {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	fm, err := registry.NewForwardMap(filepath.Join(cfg.Storage.DataPath, "forward_map.json"))
	if err != nil {
		return nil, nil, err
	}
	reg, err := registry.New(filepath.Join(cfg.Storage.DataPath, "people.json"), fm)
	if err != nil {
		return nil, nil, err
	}

	var store storage.LedgerStore
	switch cfg.Storage.Engine {
	case "postgres":
		store, err = postgres.NewLedgerStore(cfg.Storage.PostgresDSN, reg)
	default:
		store, err = sqlite.NewLedgerStore(filepath.Join(cfg.Storage.DataPath, "kith.db"), reg)
	}
	if err != nil {
		return nil, nil, err
	}

	var res resolver.IdentityResolver
	if cfg.Resolver.BaseURL != "" {
		res = resolver.NewGuarded(resolver.NewHTTPClient(cfg.Resolver.BaseURL, 0), &cfg.Resolver, log)
	}

	eng := engine.New(reg, store, res, cfg, log)
	return eng, func() { _ = store.Close() }, nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func personCommand() *cli.Command {
	return &cli.Command{
		Name:      "person",
		Usage:     "Look a person up by id, email, phone, or name",
		ArgsUsage: "REF",
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("missing required argument: person reference")
			}
			eng, cleanup, err := bootstrap(c)
			if err != nil {
				return err
			}
			defer cleanup()

			person, ok := eng.LookupPerson(c.Args().Get(0))
			if !ok {
				return fmt.Errorf("no person matches %q", c.Args().Get(0))
			}
			return printJSON(person)
		},
	}
}

func resolveCommand() *cli.Command {
	return &cli.Command{
		Name:  "resolve",
		Usage: "Map an observation hint to a person, asking the external resolver on a local miss",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Usage: "Observed name"},
			&cli.StringFlag{Name: "email", Usage: "Observed email address"},
			&cli.StringFlag{Name: "phone", Usage: "Observed phone number"},
		},
		Action: func(c *cli.Context) error {
			hint := resolver.Hint{
				Name:  c.String("name"),
				Email: c.String("email"),
				Phone: c.String("phone"),
			}
			eng, cleanup, err := bootstrap(c)
			if err != nil {
				return err
			}
			defer cleanup()

			person, err := eng.ResolvePerson(context.Background(), hint)
			if err != nil {
				return err
			}
			return printJSON(person)
		},
	}
}

func recordCommand() *cli.Command {
	return &cli.Command{
		Name:      "record",
		Usage:     "Record one interaction for a person",
		ArgsUsage: "PERSON_REF",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Usage: "Source channel (email, calendar, note, message, social)", Required: true},
			&cli.StringFlag{Name: "source-id", Usage: "Dedup key within the channel"},
			&cli.StringFlag{Name: "title", Usage: "Subject or event title", Required: true},
			&cli.StringFlag{Name: "snippet", Usage: "Short content excerpt"},
			&cli.StringFlag{Name: "link", Usage: "Deep link back to the source"},
			&cli.TimestampFlag{Name: "at", Layout: time.RFC3339, Usage: "Interaction timestamp (default: now)"},
			&cli.IntFlag{Name: "duration", Usage: "Event length in minutes (calendar only)"},
			&cli.BoolFlag{Name: "all-day", Usage: "Mark a calendar event as all-day"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("missing required argument: person reference")
			}
			eng, cleanup, err := bootstrap(c)
			if err != nil {
				return err
			}
			defer cleanup()

			person, ok := eng.LookupPerson(c.Args().Get(0))
			if !ok {
				return fmt.Errorf("no person matches %q", c.Args().Get(0))
			}

			ts := time.Now().UTC()
			if at := c.Timestamp("at"); at != nil && !at.IsZero() {
				ts = at.UTC()
			}

			stored, added, err := eng.RecordInteraction(context.Background(), &types.Interaction{
				PersonID:        person.ID,
				Timestamp:       ts,
				SourceType:      types.SourceType(c.String("source")),
				Title:           c.String("title"),
				Snippet:         c.String("snippet"),
				Link:            c.String("link"),
				SourceID:        c.String("source-id"),
				DurationMinutes: c.Int("duration"),
				AllDay:          c.Bool("all-day"),
			})
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"interaction": stored,
				"was_added":   added,
			})
		},
	}
}

func scoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "score",
		Usage:     "Compute a person's relationship strength",
		ArgsUsage: "PERSON_REF",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "Recompute even when a fresh cached value exists"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("missing required argument: person reference")
			}
			eng, cleanup, err := bootstrap(c)
			if err != nil {
				return err
			}
			defer cleanup()

			person, ok := eng.LookupPerson(c.Args().Get(0))
			if !ok {
				return fmt.Errorf("no person matches %q", c.Args().Get(0))
			}
			score, err := eng.Score(context.Background(), person.ID, c.Bool("force"))
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"person_id": person.ID,
				"name":      person.CanonicalName,
				"strength":  score,
			})
		},
	}
}

func discoverCommand() *cli.Command {
	return &cli.Command{
		Name:  "discover",
		Usage: "Infer relationship edges from ledger co-occurrence",
		Action: func(c *cli.Context) error {
			eng, cleanup, err := bootstrap(c)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := eng.RunDiscovery(context.Background())
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}

func anomaliesCommand() *cli.Command {
	return &cli.Command{
		Name:  "anomalies",
		Usage: "Run the gap, drift, and meeting-load analyzers",
		Flags: []cli.Flag{
			&cli.TimestampFlag{Name: "day", Layout: "2006-01-02", Usage: "Meeting-load day (default: today)"},
		},
		Action: func(c *cli.Context) error {
			eng, cleanup, err := bootstrap(c)
			if err != nil {
				return err
			}
			defer cleanup()

			day := time.Now().UTC()
			if d := c.Timestamp("day"); d != nil && !d.IsZero() {
				day = d.UTC()
			}
			return printJSON(eng.Anomalies(context.Background(), day))
		},
	}
}

func mergeCommand() *cli.Command {
	return &cli.Command{
		Name:      "merge",
		Usage:     "Fold a duplicate person record into the surviving one",
		ArgsUsage: "PRIMARY_ID SECONDARY_ID",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("usage: merge PRIMARY_ID SECONDARY_ID")
			}
			eng, cleanup, err := bootstrap(c)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := eng.Merge(context.Background(), c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}

func integrityCommand() *cli.Command {
	return &cli.Command{
		Name:  "integrity",
		Usage: "Audit the ledger for person ids that no longer resolve",
		Action: func(c *cli.Context) error {
			eng, cleanup, err := bootstrap(c)
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := eng.CheckIntegrity(context.Background())
			if report == nil {
				return err
			}
			if report.Empty() {
				fmt.Println("ledger is consistent: every stored person id resolves")
				return nil
			}
			if perr := printJSON(report); perr != nil {
				return perr
			}
			return err
		},
	}
}

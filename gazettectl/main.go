package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"github.com/urfave/cli/v2"

	"github.com/DeafMist/gazette-radar/backend/internal/config"
	"github.com/DeafMist/gazette-radar/backend/internal/elasticsearch"
	"github.com/DeafMist/gazette-radar/backend/internal/gazettes"
	"github.com/DeafMist/gazette-radar/backend/internal/logger"
	"github.com/DeafMist/gazette-radar/backend/internal/models"
	"github.com/DeafMist/gazette-radar/backend/internal/ner"
	"github.com/DeafMist/gazette-radar/backend/internal/postgres"
	"github.com/DeafMist/gazette-radar/backend/internal/processing"
	"github.com/DeafMist/gazette-radar/backend/internal/queue"
	"github.com/DeafMist/gazette-radar/backend/internal/segmentation"
	"github.com/DeafMist/gazette-radar/backend/internal/territories"
	"github.com/DeafMist/gazette-radar/backend/internal/textextract"
	"github.com/DeafMist/gazette-radar/backend/internal/themes"
	"github.com/DeafMist/gazette-radar/backend/internal/workpool"
)

func main() {
	_ = godotenv.Load()

	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:   "gazettectl",
		Usage:  "Operator tools for the gazette pipeline",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "segment",
				Usage:     "Split an association gazette text file into territory segments",
				ArgsUsage: "<text file>",
				Action:    segmentCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "territories",
						Aliases:  []string{"t"},
						Usage:    "CSV with id,territory_name,state_code columns",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "state",
						Aliases:  []string{"s"},
						Usage:    "State code of the association",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "ner-model",
						Usage: "Token classification model directory; territory names are matched when empty",
					},
					&cli.StringFlag{
						Name:  "marker",
						Usage: "Line that closes each publication block",
						Value: segmentation.IdentifierMarker,
					},
					&cli.StringFlag{
						Name:  "date",
						Usage: "Edition date (YYYY-MM-DD), defaults to today",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Chunks resolved concurrently",
						Value: 8,
					},
				},
			},
			{
				Name:   "query",
				Usage:  "Print the search bodies built for a theme",
				Action: queryCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "themes",
						Usage:    "Theme definitions YAML",
						Required: true,
						EnvVars:  []string{"THEMES_FILE"},
					},
					&cli.StringFlag{
						Name:     "theme",
						Usage:    "Theme name",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "es-addr",
						Usage:   "Elasticsearch address used to tokenize terms",
						Value:   "http://localhost:9200",
						EnvVars: []string{"ELASTICSEARCH_ADDR"},
					},
					&cli.StringFlag{
						Name:    "index",
						Usage:   "Gazette index",
						Value:   "querido-diario",
						EnvVars: []string{"ELASTICSEARCH_INDEX"},
					},
					&cli.StringSliceFlag{
						Name:  "id",
						Usage: "Gazette document id to restrict the query to (repeatable)",
					},
				},
			},
			{
				Name:      "classify",
				Usage:     "Tell whether territory ids denote association gazettes",
				ArgsUsage: "<territory id>...",
				Action:    classifyCommand,
			},
			{
				Name:      "text",
				Usage:     "Print the text extracted from a gazette file",
				ArgsUsage: "<file>",
				Action:    textCommand,
			},
			{
				Name:   "enqueue",
				Usage:  "Publish unprocessed gazettes as extraction jobs",
				Action: enqueueCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "database-url",
						Usage:    "Postgres connection string",
						Required: true,
						EnvVars:  []string{"DATABASE_URL"},
					},
					&cli.StringSliceFlag{
						Name:    "brokers",
						Usage:   "Kafka brokers",
						Value:   cli.NewStringSlice("localhost:9092"),
						EnvVars: []string{"KAFKA_BROKERS"},
					},
					&cli.StringFlag{
						Name:    "topic",
						Usage:   "Job topic",
						Value:   "gazettes_pending",
						EnvVars: []string{"KAFKA_TOPIC"},
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum gazettes to enqueue",
						Value: 1000,
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Print the jobs instead of publishing them",
					},
				},
			},
		},
	}
}

func commandLogger(c *cli.Context) *slog.Logger {
	return logger.NewWithWriter(c.App.ErrWriter, "gazettectl", c.String("log-level"), "")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

type segmentView struct {
	TerritoryID   string `json:"territory_id"`
	TerritoryName string `json:"territory_name"`
	FileChecksum  string `json:"file_checksum"`
	IsFragmented  bool   `json:"is_fragmented"`
	Path          string `json:"path"`
	Text          string `json:"text"`
}

func segmentCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one text file")
	}
	log := commandLogger(c)

	raw, err := os.ReadFile(c.Args().First())
	if err != nil {
		return fmt.Errorf("read gazette text: %w", err)
	}
	csvFile, err := os.Open(c.String("territories"))
	if err != nil {
		return fmt.Errorf("open territories: %w", err)
	}
	defer csvFile.Close()
	list, err := territories.LoadCSV(csvFile)
	if err != nil {
		return err
	}
	registry := territories.NewRegistry(list)

	var recognizer segmentation.Recognizer
	if model := c.String("ner-model"); model != "" {
		rec, err := ner.New(ner.Config{ModelPath: model}, log)
		if err != nil {
			return err
		}
		defer rec.Close()
		recognizer = rec
	} else {
		names := make([]string, 0, len(list))
		for _, t := range list {
			names = append(names, t.Name)
		}
		recognizer = ner.NewDictionary(names)
	}

	pool, err := workpool.New(c.Int("workers"), workpool.WithLogger(log))
	if err != nil {
		return err
	}
	defer pool.Release()

	text := processing.FixUnicode(string(raw))
	state := strings.ToUpper(c.String("state"))
	association := registry.Association(state)
	date := c.String("date")
	if date == "" {
		date = time.Now().Format(time.DateOnly)
	}
	gazette := models.Gazette{
		TerritoryID:  association.ID,
		StateCode:    state,
		Date:         date,
		SourceText:   text,
		FileChecksum: processing.Checksum(text),
	}

	segmenter := segmentation.NewSegmenter(registry, recognizer, pool,
		segmentation.WithLogger(log),
		segmentation.WithMarker(c.String("marker")),
	)
	segments := segmenter.Segments(c.Context, gazette)

	views := make([]segmentView, 0, len(segments))
	for _, s := range segments {
		views = append(views, segmentView{
			TerritoryID:   s.TerritoryID,
			TerritoryName: s.TerritoryName,
			FileChecksum:  s.FileChecksum,
			IsFragmented:  s.IsFragmented,
			Path:          gazettes.SegmentPath(s),
			Text:          s.SourceText,
		})
	}
	return writeJSON(c.App.Writer, views)
}

func queryCommand(c *cli.Context) error {
	list, err := config.ReadThemesFile(c.String("themes"))
	if err != nil {
		return err
	}
	var theme *models.Theme
	for i := range list {
		if list[i].Name == c.String("theme") {
			theme = &list[i]
			break
		}
	}
	if theme == nil {
		return fmt.Errorf("theme %q not found", c.String("theme"))
	}

	log := commandLogger(c)
	esClient, err := elasticsearch.New(c.String("es-addr"), c.String("index"), log)
	if err != nil {
		return err
	}

	ids := c.StringSlice("id")
	if ids == nil {
		ids = []string{}
	}
	builder := themes.NewQueryBuilder(esClient, c.String("index"), nil)

	bodies := make(map[string]any, len(theme.Queries))
	for _, q := range theme.Queries {
		body, err := builder.Build(c.Context, q, ids)
		if err != nil {
			return err
		}
		bodies[q.Title] = body
	}
	return writeJSON(c.App.Writer, bodies)
}

func classifyCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("expected at least one territory id")
	}
	for _, id := range c.Args().Slice() {
		kind := "municipality"
		if processing.IsAggregated(id) {
			kind = "association"
		}
		if _, err := fmt.Fprintf(c.App.Writer, "%s\t%s\n", id, kind); err != nil {
			return err
		}
	}
	return nil
}

func textCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one file")
	}
	text, err := textextract.New().ExtractText(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	_, err = io.WriteString(c.App.Writer, text)
	return err
}

func enqueueCommand(c *cli.Context) error {
	log := commandLogger(c)
	ctx := c.Context

	db, err := postgres.OpenDB(ctx, c.String("database-url"))
	if err != nil {
		return err
	}
	defer db.Close()

	pending, err := postgres.NewStore(db).PendingGazettes(ctx, c.Int("limit"))
	if err != nil {
		return err
	}

	if c.Bool("dry-run") {
		return writeJSON(c.App.Writer, pending)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(c.StringSlice("brokers")...),
		Topic:        c.String("topic"),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	defer writer.Close()

	n, err := publishJobs(ctx, writer, pending)
	if err != nil {
		return err
	}
	log.Info("gazettes enqueued", slog.Int("count", n), slog.String("topic", c.String("topic")))
	_, err = fmt.Fprintf(c.App.Writer, "enqueued %d gazettes\n", n)
	return err
}

// publishJobs writes one job per gazette keyed by file checksum, so that
// redeliveries of the same file land on the same partition.
func publishJobs(ctx context.Context, w queue.Writer, gazettes []models.Gazette) (int, error) {
	if len(gazettes) == 0 {
		return 0, nil
	}
	msgs := make([]kafka.Message, 0, len(gazettes))
	for _, g := range gazettes {
		raw, err := json.Marshal(g)
		if err != nil {
			return 0, fmt.Errorf("encode gazette %d: %w", g.ID, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(g.FileChecksum), Value: raw})
	}
	if err := w.WriteMessages(ctx, msgs...); err != nil {
		return 0, fmt.Errorf("publish jobs: %w", err)
	}
	return len(msgs), nil
}

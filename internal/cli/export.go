package cli

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/so-miner/backend/internal/filter"
	"github.com/so-miner/backend/internal/handlers"
	"github.com/so-miner/backend/internal/models"
	"github.com/so-miner/backend/internal/sink"
)

var (
	exportFormat    string
	exportOut       string
	exportRules     string
	exportLimit     int
	exportCompress  bool
	exportBatchSize int
)

var exportCmd = &cobra.Command{
	Use:   "export <dump>",
	Short: "Write the posts of a dump to a database, index or file",
	Long: `Export converts every record of a dump to a post and writes it to a sink.

Formats:
  duckdb   DuckDB database with posts and snippets tables
  sqlite   SQLite database with the same schema
  bleve    full text index over titles, bodies, tags and snippets
  msgpack  stream of MessagePack maps, zstd compressed with --compress
  jsonl    one JSON object per line

Examples:
  sominer export Posts.xml --format duckdb
  sominer export Posts.xml.gz --format msgpack --compress --out posts.msgpack.zst
  sominer export Posts.xml --format bleve --rules questions.yaml --limit 50000
`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "", "sink format ("+strings.Join(sink.GetGlobalRegistry().Formats(), ", ")+"), default duckdb")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output path (default: next to the dump)")
	exportCmd.Flags().StringVar(&exportRules, "rules", "", "YAML filter rules file")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "stop after this many posts are written")
	exportCmd.Flags().BoolVar(&exportCompress, "compress", false, "compress the output where the format supports it")
	exportCmd.Flags().IntVar(&exportBatchSize, "batch-size", 0, "posts buffered per write batch")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadMiningConfig()
	if err != nil {
		return err
	}

	format := exportFormat
	opts := sink.Options{BatchSize: exportBatchSize, Compress: exportCompress}
	if cfg != nil {
		if format == "" {
			format = cfg.Export.DefaultFormat
		}
		base := cfg.SinkOptions()
		if opts.BatchSize == 0 {
			opts.BatchSize = base.BatchSize
		}
		opts.Compress = opts.Compress || base.Compress
	}
	if format == "" {
		format = "duckdb"
	}

	out := exportOut
	if out == "" {
		out = defaultExportPath(args[0], format, opts.Compress)
	}

	var rules *filter.Filter
	if exportRules != "" {
		if rules, err = filter.Load(exportRules); err != nil {
			return err
		}
	}

	quiet := viper.GetBool("quiet")
	opts.Logger = log.New(cmd.ErrOrStderr(), "[Export] ", log.LstdFlags)
	s, err := sink.Open(format, out, opts)
	if err != nil {
		return err
	}
	counted := &countingSink{Sink: s}

	sess, err := mineDump(cmd.Context(), mineRun{
		path:          args[0],
		handler:       handlers.Export(counted),
		rules:         rules,
		limit:         exportLimit,
		opts:          minerOptions(cfg),
		progressEvery: progressEvery(cfg),
		quiet:         quiet,
		stderr:        cmd.ErrOrStderr(),
	})
	if cerr := s.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to finish %s: %w", out, cerr)
	}
	if err != nil {
		return fmt.Errorf("exporting %s: %w", args[0], err)
	}

	if !quiet {
		printSummary(cmd.ErrOrStderr(), sess)
		fmt.Fprintf(cmd.ErrOrStderr(), "  Wrote %d posts to %s\n", counted.n, out)
	}
	return nil
}

// defaultExportPath places the export next to the dump, named after it
// without its .xml and compression extensions.
func defaultExportPath(dump, format string, compress bool) string {
	name := filepath.Base(dump)
	for _, ext := range []string{".gz", ".zst", ".zstd", ".lz4", ".bz2", ".xml"} {
		if strings.HasSuffix(strings.ToLower(name), ext) {
			name = name[:len(name)-len(ext)]
		}
	}
	return filepath.Join(filepath.Dir(dump), name+sink.Extension(format, compress))
}

// countingSink counts the posts that reached the sink.
type countingSink struct {
	sink.Sink
	n int
}

func (c *countingSink) Write(ctx context.Context, p *models.Post) error {
	if err := c.Sink.Write(ctx, p); err != nil {
		return err
	}
	c.n++
	return nil
}

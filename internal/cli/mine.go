package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/so-miner/backend/internal/filter"
	"github.com/so-miner/backend/internal/handlers"
)

var (
	mineHandler string
	mineRules   string
	mineLimit   int
)

var mineCmd = &cobra.Command{
	Use:   "mine <dump>",
	Short: "Run a bundled handler over a dump",
	Long: `Mine streams every record of a dump through one of the bundled handlers.

Handlers:
  titles    print "id: title" for every post with a title
  snippets  count <code> snippets and report how many are unique
  count     only count records

Examples:
  # Print question titles
  sominer mine Posts.xml

  # Snippet statistics over the first million matching answers
  sominer mine Posts.xml.zst --handler snippets --rules answers.yaml --limit 1000000
`,
	Args: cobra.ExactArgs(1),
	RunE: runMine,
}

func init() {
	rootCmd.AddCommand(mineCmd)
	mineCmd.Flags().StringVar(&mineHandler, "handler", "titles", "handler to run ("+strings.Join(handlers.Names(), ", ")+")")
	mineCmd.Flags().StringVar(&mineRules, "rules", "", "YAML filter rules file")
	mineCmd.Flags().IntVar(&mineLimit, "limit", 0, "stop after this many records reach the handler")
}

func runMine(cmd *cobra.Command, args []string) error {
	cfg, err := loadMiningConfig()
	if err != nil {
		return err
	}

	h, err := handlers.ByName(mineHandler, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	var rules *filter.Filter
	if mineRules != "" {
		if rules, err = filter.Load(mineRules); err != nil {
			return err
		}
	}

	quiet := viper.GetBool("quiet")
	sess, err := mineDump(cmd.Context(), mineRun{
		path:          args[0],
		handler:       h,
		rules:         rules,
		limit:         mineLimit,
		opts:          minerOptions(cfg),
		progressEvery: progressEvery(cfg),
		quiet:         quiet,
		stderr:        cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("mining %s: %w", args[0], err)
	}

	if stats, ok := h.(*handlers.SnippetStats); ok {
		if err := handlers.PrintReport(cmd.OutOrStdout(), stats.Report()); err != nil {
			return err
		}
	}
	if !quiet {
		printSummary(cmd.ErrOrStderr(), sess)
	}
	return nil
}

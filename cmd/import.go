package main

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/newswire/internal/fingerprint"
	"github.com/sells-group/newswire/internal/model"
)

// legacySourceID tags records imported from an embeddings dump.
const legacySourceID = "legacy"

var importFile string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import published titles and embeddings from a JSON dump",
	Long:  `Loads a JSON array of {"title", "embedding"} objects into the novelty store. Titles already present are skipped, so the import can be re-run.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		f, err := os.Open(importFile)
		if err != nil {
			return eris.Wrap(err, "open import file")
		}
		defer f.Close() //nolint:errcheck

		recs, skipped, err := parseLegacy(f, time.Now().UTC())
		if err != nil {
			return err
		}

		ns, err := initNovelty(ctx)
		if err != nil {
			return err
		}
		defer ns.Close() //nolint:errcheck

		inserted, err := ns.Import(ctx, recs)
		if err != nil {
			return err
		}

		zap.L().Info("import complete",
			zap.String("file", importFile),
			zap.Int("records", len(recs)),
			zap.Int64("inserted", inserted),
			zap.Int("skipped_invalid", skipped),
			zap.Int("total", ns.Len()),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to JSON embeddings file (required)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}

type legacyEntry struct {
	Title     string    `json:"title"`
	URL       string    `json:"url,omitempty"`
	Embedding []float32 `json:"embedding"`
}

// parseLegacy decodes an embeddings dump into novelty records. Entries with
// no identity are skipped and counted; repeated keys keep the first entry.
func parseLegacy(r io.Reader, now time.Time) ([]model.NoveltyRecord, int, error) {
	var entries []legacyEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, 0, eris.Wrap(err, "decode import file")
	}

	recs := make([]model.NoveltyRecord, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	skipped := 0
	for i, e := range entries {
		key, err := fingerprint.ExactKey(e.Title, e.URL)
		if err != nil {
			zap.L().Debug("import: skipping entry without identity", zap.Int("index", i))
			skipped++
			continue
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		recs = append(recs, model.NoveltyRecord{
			ExactKey:    key,
			Embedding:   e.Embedding,
			FirstSeenAt: now,
			SourceID:    legacySourceID,
		})
	}
	return recs, skipped, nil
}

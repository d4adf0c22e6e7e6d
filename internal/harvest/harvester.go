package harvest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/ZerkerEOD/krakenwifi/internal/hashcat"
	"github.com/ZerkerEOD/krakenwifi/internal/models"
	"github.com/ZerkerEOD/krakenwifi/pkg/debug"
)

// ErrHarvestIO is returned when the output artifact exists but cannot be read
var ErrHarvestIO = errors.New("harvest I/O error")

const (
	pmkIterations = 4096
	pmkLength     = 32
)

// ResultSink receives harvested results in one batch and reports how many were new
type ResultSink interface {
	AppendResults(ctx context.Context, jobID string, results []models.CrackResult) (int, error)
}

// Report describes one harvest
type Report struct {
	Results  []models.CrackResult
	Inserted int
	Warnings []hashcat.OutfileWarning
	// Missing is true when the tool never wrote the output file
	Missing bool
}

// Harvester turns a job's output file into stored CrackResults. Running it again over the same
// file stores nothing new.
type Harvester struct {
	sink ResultSink
	now  func() time.Time
}

func New(sink ResultSink) *Harvester {
	return &Harvester{sink: sink, now: time.Now}
}

// Harvest reads outfile and stores its results for jobID. With partial set, an unterminated
// last line is left for a later harvest because the tool may still be writing it.
func (h *Harvester) Harvest(ctx context.Context, jobID, outfile string, mode models.AttackKind, partial bool) (Report, error) {
	f, err := os.Open(outfile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Report{Missing: true}, nil
		}
		return Report{}, fmt.Errorf("%w: %v", ErrHarvestIO, err)
	}
	defer f.Close()

	entries, warnings, err := hashcat.ParseOutfile(f, partial)
	if err != nil {
		return Report{Warnings: warnings}, fmt.Errorf("%w: %v", ErrHarvestIO, err)
	}
	for _, w := range warnings {
		debug.Warning("job %s: skipped outfile line %d: %s", jobID, w.Line, w.Reason)
	}

	report := Report{Warnings: warnings, Results: Dedupe(jobID, entries, mode, h.now())}
	if len(report.Results) == 0 {
		return report, nil
	}

	inserted, err := h.sink.AppendResults(ctx, jobID, report.Results)
	if err != nil {
		return report, fmt.Errorf("failed to store results: %w", err)
	}
	report.Inserted = inserted
	if inserted > 0 {
		debug.Fields(debug.LevelInfo, "harvested results", map[string]interface{}{
			"job_id":   jobID,
			"parsed":   len(report.Results),
			"inserted": inserted,
		})
	}
	return report, nil
}

// Dedupe converts entries to results keeping the first of each (network, plaintext)
func Dedupe(jobID string, entries []hashcat.CrackedEntry, mode models.AttackKind, at time.Time) []models.CrackResult {
	seen := make(map[string]bool, len(entries))
	results := make([]models.CrackResult, 0, len(entries))
	for _, e := range entries {
		r := models.CrackResult{
			JobID:        jobID,
			Network:      e.Network,
			ESSID:        e.ESSID,
			Plaintext:    e.Plaintext,
			Mode:         mode,
			DiscoveredAt: at,
		}
		if seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		if r.ESSID != "" {
			r.PMK = DerivePMK(r.Plaintext, r.ESSID)
		}
		results = append(results, r)
	}
	return results
}

// DerivePMK computes the WPA pairwise master key for a passphrase, or "" when the
// passphrase cannot be a WPA passphrase
func DerivePMK(passphrase, essid string) string {
	if len(passphrase) < 8 || len(passphrase) > 63 || essid == "" {
		return ""
	}
	key := pbkdf2.Key([]byte(passphrase), []byte(essid), pmkIterations, pmkLength, sha1.New)
	return hex.EncodeToString(key)
}

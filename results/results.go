// Package results finds upload transactions on the ingestion service and
// downloads their KML result files into the local output directory.
package results

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/FadeVT/Frostband/ingest"
	"github.com/FadeVT/Frostband/iox"
)

// ResultExt is the extension of downloaded result files.
const ResultExt = ".kml"

// ErrInvalidDate is returned for range bounds that are not YYYYMMDD.
var ErrInvalidDate = errors.New("date must be YYYYMMDD")

// ErrInvalidID is returned for transaction ids unusable as file names.
var ErrInvalidID = errors.New("invalid transaction id")

// Source is the part of the ingestion client results depend on.
type Source interface {
	Transactions(ctx context.Context) ([]ingest.Transaction, error)
	FetchResult(ctx context.Context, transID string, w io.Writer) error
}

// Row is one transaction within the requested range.
type Row struct {
	TransID    string `json:"transid"`
	Date       string `json:"date"`
	FileName   string `json:"file_name,omitempty"`
	Status     string `json:"status,omitempty"`
	Downloaded bool   `json:"downloaded"`
}

// Find lists transactions whose id date prefix lies in [from, to], both
// YYYYMMDD and inclusive, marking those whose result already exists in
// outputDir.
func Find(ctx context.Context, src Source, outputDir, from, to string) ([]Row, error) {
	if !validDate(from) || !validDate(to) {
		return nil, ErrInvalidDate
	}
	txs, err := src.Transactions(ctx)
	if err != nil {
		return nil, err
	}
	var rows []Row
	for _, tx := range txs {
		date := tx.Date()
		if date == "" || date < from || date > to {
			continue
		}
		rows = append(rows, Row{
			TransID:    tx.TransID,
			Date:       date,
			FileName:   tx.FileName,
			Status:     tx.Status,
			Downloaded: Exists(outputDir, tx.TransID),
		})
	}
	return rows, nil
}

func validDate(s string) bool {
	if len(s) != 8 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// NewIDs returns the ids of rows not yet downloaded.
func NewIDs(rows []Row) []string {
	var ids []string
	for _, r := range rows {
		if !r.Downloaded {
			ids = append(ids, r.TransID)
		}
	}
	return ids
}

// Path returns where the result for transID is stored.
func Path(outputDir, transID string) string {
	return filepath.Join(outputDir, transID+ResultExt)
}

// Exists reports whether the result for transID is already on disk.
func Exists(outputDir, transID string) bool {
	_, err := os.Stat(Path(outputDir, transID))
	return err == nil
}

// FetchStatus classifies one download attempt.
type FetchStatus string

const (
	FetchDownloaded FetchStatus = "downloaded"
	FetchSkipped    FetchStatus = "skipped"
	FetchFailed     FetchStatus = "failed"
)

// FetchOutcome is the result of fetching one transaction.
type FetchOutcome struct {
	TransID string      `json:"transid"`
	Path    string      `json:"path"`
	Status  FetchStatus `json:"status"`
	Error   string      `json:"error,omitempty"`
}

// Fetch downloads the result of each id into outputDir. Results already on
// disk are skipped. A failure for one id does not stop the rest.
func Fetch(ctx context.Context, src Source, outputDir string, ids []string) ([]FetchOutcome, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	out := make([]FetchOutcome, 0, len(ids))
	for _, id := range ids {
		o := FetchOutcome{TransID: id, Path: Path(outputDir, id)}
		switch err := fetchOne(ctx, src, outputDir, id); {
		case errors.Is(err, fs.ErrExist):
			o.Status = FetchSkipped
		case err != nil:
			o.Status = FetchFailed
			o.Error = err.Error()
		default:
			o.Status = FetchDownloaded
		}
		out = append(out, o)
	}
	return out, nil
}

func fetchOne(ctx context.Context, src Source, outputDir, id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	dest := Path(outputDir, id)
	if Exists(outputDir, id) {
		return fs.ErrExist
	}

	tmp, err := os.CreateTemp(outputDir, "."+id+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := src.FetchResult(ctx, id, tmp); err != nil {
		iox.DiscardClose(tmp)
		_ = iox.RemoveQuiet(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = iox.RemoveQuiet(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = iox.RemoveQuiet(tmpName)
		return err
	}
	return nil
}

var _ Source = (*ingest.Client)(nil)

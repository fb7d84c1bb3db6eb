package s3blob

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/alanyoungcy/polybet/internal/crypto"
	"github.com/alanyoungcy/polybet/internal/domain"
	"github.com/alanyoungcy/polybet/internal/payout"
)

// ReportSource is the read access the archiver needs. domain.Tx satisfies it.
type ReportSource interface {
	Markets() domain.MarketStore
	Votes() domain.VoteStore
}

// ReportRow is one vote of a settled market.
type ReportRow struct {
	User         domain.Identity `json:"user"`
	OutcomeIndex uint8           `json:"outcome_index"`
	Outcome      string          `json:"outcome"`
	Stake        uint64          `json:"stake"`
	Payout       uint64          `json:"payout"`
	Claimed      bool            `json:"claimed"`
}

var csvHeader = []string{"user", "outcome_index", "outcome", "stake", "payout", "claimed"}

// ReportArchiver writes one CSV and one JSONL report per settled market and
// implements domain.ReportArchiver. Each object carries the HMAC of its body
// in the polybet-hmac metadata key when a MAC secret is configured.
type ReportArchiver struct {
	writer   domain.BlobWriter
	reader   domain.BlobReader
	source   ReportSource
	audit    domain.AuditStore
	mac      *crypto.ReportMAC
	decimals int32
}

// NewReportArchiver builds a ReportArchiver. audit and mac may be nil.
func NewReportArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	source ReportSource,
	audit domain.AuditStore,
	mac *crypto.ReportMAC,
	decimals int32,
) *ReportArchiver {
	return &ReportArchiver{
		writer:   writer,
		reader:   reader,
		source:   source,
		audit:    audit,
		mac:      mac,
		decimals: decimals,
	}
}

// ArchiveMarket renders and uploads the report of a resolved or cancelled
// market and returns the CSV path. Re-archiving overwrites the previous copy.
func (a *ReportArchiver) ArchiveMarket(ctx context.Context, marketID string) (string, error) {
	m, err := a.source.Markets().GetByID(ctx, marketID)
	if err != nil {
		return "", fmt.Errorf("s3blob: report %s: %w", marketID, err)
	}
	if !m.Resolved() {
		return "", fmt.Errorf("s3blob: report %s: %w", marketID, domain.ErrNotResolved)
	}
	votes, err := a.source.Votes().ListByMarket(ctx, marketID, domain.ListOpts{})
	if err != nil {
		return "", fmt.Errorf("s3blob: report %s votes: %w", marketID, err)
	}

	rows, err := BuildReport(m, votes)
	if err != nil {
		return "", fmt.Errorf("s3blob: report %s: %w", marketID, err)
	}
	csvBody, err := a.renderCSV(rows)
	if err != nil {
		return "", fmt.Errorf("s3blob: report %s csv: %w", marketID, err)
	}
	jsonlBody, err := marshalJSONL(rows)
	if err != nil {
		return "", fmt.Errorf("s3blob: report %s jsonl: %w", marketID, err)
	}

	csvPath := ReportPath(marketID, "csv")
	if err := a.writer.Put(ctx, csvPath, bytes.NewReader(csvBody), "text/csv", a.meta(marketID, len(rows), csvBody)); err != nil {
		return "", err
	}
	jsonlPath := ReportPath(marketID, "jsonl")
	if err := a.writer.Put(ctx, jsonlPath, bytes.NewReader(jsonlBody), "application/x-ndjson", a.meta(marketID, len(rows), jsonlBody)); err != nil {
		return "", err
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "report.archived", map[string]any{
			"market_id": marketID,
			"path":      csvPath,
			"rows":      len(rows),
			"state":     string(m.State),
		}); err != nil {
			return csvPath, fmt.Errorf("s3blob: report %s audit: %w", marketID, err)
		}
	}
	return csvPath, nil
}

// OpenReport returns the archived CSV report of marketID.
func (a *ReportArchiver) OpenReport(ctx context.Context, marketID string) (io.ReadCloser, domain.BlobInfo, error) {
	return a.reader.Get(ctx, ReportPath(marketID, "csv"))
}

// BuildReport lists every vote with the amount it was or will be paid.
// Cancelled markets refund the stake; losing votes pay nothing.
func BuildReport(m domain.Market, votes []domain.VoteRecord) ([]ReportRow, error) {
	rows := make([]ReportRow, 0, len(votes))
	for _, v := range votes {
		row := ReportRow{
			User:         v.User,
			OutcomeIndex: v.OutcomeIndex,
			Outcome:      m.Outcome(v.OutcomeIndex),
			Stake:        v.Amount,
			Claimed:      v.Claimed,
		}
		switch {
		case v.Claimed:
			row.Payout = v.Payout
		case m.Cancelled():
			row.Payout = v.Amount
		case v.Amount == 0:
		default:
			claim, err := payout.Payout(m, v)
			switch {
			case errors.Is(err, domain.ErrLoser):
			case err != nil:
				return nil, fmt.Errorf("vote of %s: %w", v.User, err)
			default:
				row.Payout = claim.Payout
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReportPath is the object key of a market report.
func ReportPath(marketID, ext string) string {
	return "reports/" + marketID + "." + ext
}

func (a *ReportArchiver) renderCSV(rows []ReportRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, r := range rows {
		rec := []string{
			string(r.User),
			strconv.Itoa(int(r.OutcomeIndex)),
			r.Outcome,
			payout.Display(r.Stake, a.decimals),
			payout.Display(r.Payout, a.decimals),
			strconv.FormatBool(r.Claimed),
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func (a *ReportArchiver) meta(marketID string, rows int, body []byte) map[string]string {
	meta := map[string]string{
		domain.ReportMetaMarket: marketID,
		domain.ReportMetaRows:   strconv.Itoa(rows),
	}
	if a.mac != nil {
		meta[domain.ReportMetaSignature] = a.mac.Sign(body)
	}
	return meta
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

package google

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ifuryst/reelwave/internal/config"
	"github.com/ifuryst/reelwave/internal/models"
)

// Sheets is the spreadsheet side of the pipeline: the asset ledger, script
// rows of a batch and the approvals log.
//
// Ledger tab layout, from column A: footage id, script id, subtitled,
// file name, registered at. The file name column is filled in by the sheet.
type Sheets struct {
	svc    *sheets.Service
	cfg    *config.GoogleConfig
	logger *zap.Logger
}

func NewSheets(ctx context.Context, cfg *config.GoogleConfig, logger *zap.Logger, opts ...option.ClientOption) (*Sheets, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &Sheets{svc: svc, cfg: cfg, logger: logger.With(zap.String("component", "sheets"))}, nil
}

func (s *Sheets) appendRows(ctx context.Context, spreadsheetID, tab string, rows [][]interface{}) error {
	_, err := s.svc.Spreadsheets.Values.Append(spreadsheetID, tab+"!A:A", &sheets.ValueRange{Values: rows}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

func cell(row []interface{}, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[i]))
}

func subtitledFlag(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func ledgerKey(footageID, scriptID, subtitled string) string {
	return footageID + "|" + scriptID + "|" + strings.ToUpper(subtitled)
}

func (s *Sheets) readLedger(ctx context.Context) ([][]interface{}, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.cfg.LedgerSpreadsheetID, s.cfg.LedgerTab+"!A2:D").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return resp.Values, nil
}

// findLedgerRow returns the file name column of the matching ledger row
func (s *Sheets) findLedgerRow(ctx context.Context, entry models.AssetEntry) (name string, found bool, err error) {
	rows, err := s.readLedger(ctx)
	if err != nil {
		return "", false, err
	}
	want := ledgerKey(entry.FootageID, entry.ScriptID, subtitledFlag(entry.Subtitled))
	for _, row := range rows {
		if ledgerKey(cell(row, 0), cell(row, 1), cell(row, 2)) == want {
			return cell(row, 3), true, nil
		}
	}
	return "", false, nil
}

// RegisterAsset appends the combination to the ledger unless it is already there
func (s *Sheets) RegisterAsset(ctx context.Context, entry models.AssetEntry) error {
	return s.RegisterAssets(ctx, []models.AssetEntry{entry})
}

// RegisterAssets appends the combinations not yet in the ledger as a single
// append, keeping the order they are given in
func (s *Sheets) RegisterAssets(ctx context.Context, entries []models.AssetEntry) error {
	existing, err := s.readLedger(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(existing)+len(entries))
	for _, row := range existing {
		seen[ledgerKey(cell(row, 0), cell(row, 1), cell(row, 2))] = true
	}

	now := time.Now().UTC().Format(time.RFC3339)
	var rows [][]interface{}
	for _, entry := range entries {
		key := ledgerKey(entry.FootageID, entry.ScriptID, subtitledFlag(entry.Subtitled))
		if seen[key] {
			continue
		}
		seen[key] = true
		rows = append(rows, []interface{}{entry.FootageID, entry.ScriptID, subtitledFlag(entry.Subtitled), entry.FileName, now})
	}
	if len(rows) == 0 {
		return nil
	}

	if err := s.appendRows(ctx, s.cfg.LedgerSpreadsheetID, s.cfg.LedgerTab, rows); err != nil {
		return fmt.Errorf("failed to register assets: %w", err)
	}
	s.logger.Debug("Assets registered in ledger", zap.Int("count", len(rows)))
	return nil
}

// LookupFileName returns the name the ledger assigned, or "" if not filled in yet
func (s *Sheets) LookupFileName(ctx context.Context, entry models.AssetEntry) (string, error) {
	name, _, err := s.findLedgerRow(ctx, entry)
	return name, err
}

// AppendDecision adds one row to the approvals tab
func (s *Sheets) AppendDecision(ctx context.Context, decision models.ApprovalDecision) error {
	verdict := "REJECTED"
	if decision.Approved {
		verdict = "APPROVED"
	}
	row := []interface{}{
		decision.BatchName,
		strconv.Itoa(decision.ItemNumber),
		decision.FileID,
		verdict,
		decision.ReviewerID,
		decision.DecidedAt.UTC().Format(time.RFC3339),
	}
	if err := s.appendRows(ctx, s.cfg.LedgerSpreadsheetID, s.cfg.ApprovalsTab, [][]interface{}{row}); err != nil {
		return fmt.Errorf("failed to append decision: %w", err)
	}
	return nil
}

// WriteScripts appends the scripts of a batch, in index order, to a tab of the
// spreadsheet the batch came from
func (s *Sheets) WriteScripts(ctx context.Context, spreadsheetID, tab string, batchID string, scripts []models.BatchScript) error {
	rows := make([][]interface{}, 0, len(scripts))
	for _, script := range scripts {
		rows = append(rows, []interface{}{
			batchID,
			strconv.Itoa(script.ScriptIndex + 1),
			script.Title,
			script.Content,
			script.Reasoning,
			strings.Join(script.TargetMetrics, ", "),
			script.FileName,
		})
	}
	if err := s.appendRows(ctx, spreadsheetID, tab, rows); err != nil {
		return fmt.Errorf("failed to write scripts: %w", err)
	}
	s.logger.Info("Scripts written to sheet", zap.String("batch_id", batchID), zap.Int("count", len(rows)))
	return nil
}

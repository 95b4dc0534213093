package sheets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"github.com/hcpa/caixas/internal/store"
)

type Config struct {
	SpreadsheetID    string
	SpreadsheetTitle string // used to search Drive when SpreadsheetID is empty
	CredentialsFile  string
	CredentialsJSON  string // service account JSON, takes precedence over the file
	PendingSheet     string
	HistorySheet     string
	Timeout          time.Duration
}

// Open authorizes with the service account, locates the spreadsheet and
// makes sure both worksheets exist with their header rows.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	creds, err := loadCredentials(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sheetsService, err := sheetsapi.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to create Sheets service: %w", err)
	}

	spreadsheetID := cfg.SpreadsheetID
	if spreadsheetID == "" {
		driveService, err := drive.NewService(ctx, option.WithCredentials(creds))
		if err != nil {
			return nil, fmt.Errorf("failed to create Drive service: %w", err)
		}
		spreadsheetID, err = findSpreadsheet(ctx, driveService, cfg.SpreadsheetTitle)
		if err != nil {
			return nil, err
		}
	}
	logger.Info("spreadsheet located", zap.String("spreadsheet_id", spreadsheetID))

	client := &googleClient{service: sheetsService, spreadsheetID: spreadsheetID}
	titles := map[store.Table]string{
		store.TablePending: cfg.PendingSheet,
		store.TableHistory: cfg.HistorySheet,
	}
	return newStore(ctx, client, titles, cfg.Timeout, logger)
}

func loadCredentials(ctx context.Context, cfg Config) (*google.Credentials, error) {
	data := []byte(cfg.CredentialsJSON)
	if len(data) == 0 {
		if cfg.CredentialsFile == "" {
			return nil, fmt.Errorf("no service account credentials configured")
		}
		raw, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		data = raw
	}

	creds, err := google.CredentialsFromJSON(ctx, data, sheetsapi.SpreadsheetsScope, drive.DriveReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account credentials: %w", err)
	}
	return creds, nil
}

func findSpreadsheet(ctx context.Context, service *drive.Service, title string) (string, error) {
	if title == "" {
		return "", fmt.Errorf("spreadsheet id or title is required")
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	q := fmt.Sprintf("name = '%s' and mimeType = 'application/vnd.google-apps.spreadsheet' and trashed = false",
		strings.ReplaceAll(title, "'", `\'`))
	list, err := service.Files.List().Q(q).Fields("files(id, name)").PageSize(1).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to search spreadsheet %q: %w", title, err)
	}
	if len(list.Files) == 0 {
		return "", fmt.Errorf("spreadsheet %q not found or not shared with the service account", title)
	}
	return list.Files[0].Id, nil
}

// googleClient adapts the generated Sheets client to api.
type googleClient struct {
	service       *sheetsapi.Service
	spreadsheetID string
}

func (c *googleClient) sheetIDs(ctx context.Context) (map[string]int64, error) {
	sp, err := c.service.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	ids := make(map[string]int64, len(sp.Sheets))
	for _, sh := range sp.Sheets {
		if sh.Properties != nil {
			ids[sh.Properties.Title] = sh.Properties.SheetId
		}
	}
	return ids, nil
}

func (c *googleClient) addSheet(ctx context.Context, title string) (int64, error) {
	resp, err := c.service.Spreadsheets.BatchUpdate(c.spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			AddSheet: &sheetsapi.AddSheetRequest{
				Properties: &sheetsapi.SheetProperties{Title: title},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	if len(resp.Replies) == 0 || resp.Replies[0].AddSheet == nil || resp.Replies[0].AddSheet.Properties == nil {
		return 0, fmt.Errorf("empty reply adding worksheet %q", title)
	}
	return resp.Replies[0].AddSheet.Properties.SheetId, nil
}

func (c *googleClient) getValues(ctx context.Context, rng string) ([][]any, error) {
	vr, err := c.service.Spreadsheets.Values.Get(c.spreadsheetID, rng).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, err
	}
	return vr.Values, nil
}

func (c *googleClient) appendValues(ctx context.Context, rng string, row []any) error {
	_, err := c.service.Spreadsheets.Values.Append(c.spreadsheetID, rng, &sheetsapi.ValueRange{
		Values: [][]interface{}{row},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	return err
}

func (c *googleClient) updateValues(ctx context.Context, rng string, row []any) error {
	_, err := c.service.Spreadsheets.Values.Update(c.spreadsheetID, rng, &sheetsapi.ValueRange{
		Values: [][]interface{}{row},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (c *googleClient) deleteRow(ctx context.Context, sheetID, index int64) error {
	_, err := c.service.Spreadsheets.BatchUpdate(c.spreadsheetID, &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			DeleteDimension: &sheetsapi.DeleteDimensionRequest{
				Range: &sheetsapi.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: index,
					EndIndex:   index + 1,
					// sheet 0 and row 0 are real values, not unset fields
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
			},
		}},
	}).Context(ctx).Do()
	return err
}

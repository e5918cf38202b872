package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var ErrFileNotFound = errors.New("remote file not found")

// ClientOptions resolves the service account credentials. cfgCredentials may
// hold the credentials JSON itself or a path to it; empty falls back to the
// application default credentials.
func ClientOptions(ctx context.Context, cfgCredentials string) ([]option.ClientOption, error) {
	scopes := []string{drive.DriveScope, sheets.SpreadsheetsScope}

	raw := strings.TrimSpace(cfgCredentials)
	var data []byte
	switch {
	case raw == "":
		creds, err := google.FindDefaultCredentials(ctx, scopes...)
		if err != nil {
			return nil, fmt.Errorf("failed to find default google credentials: %w", err)
		}
		return []option.ClientOption{option.WithCredentials(creds)}, nil
	case strings.HasPrefix(raw, "{"):
		data = []byte(raw)
	default:
		fileData, err := os.ReadFile(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to read google credentials file: %w", err)
		}
		data = fileData
	}

	creds, err := google.CredentialsFromJSON(ctx, data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse google credentials: %w", err)
	}
	return []option.ClientOption{option.WithCredentials(creds)}, nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func wrapNotFound(err error, fileID string) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", ErrFileNotFound, fileID)
	}
	return err
}

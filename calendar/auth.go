package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// GoogleAuth locates the credential material for the Google Calendar API.
// CredentialsJSON takes precedence; otherwise the client secret and token
// files are used together.
type GoogleAuth struct {
	CredentialsJSON  string // inline credentials JSON, for deployments without a filesystem token
	ClientSecretPath string
	TokenPath        string
}

// NewService builds a read-only Calendar API client from the available
// credential material.
func NewService(ctx context.Context, auth GoogleAuth) (*gcal.Service, error) {
	if auth.CredentialsJSON != "" {
		svc, err := gcal.NewService(ctx,
			option.WithCredentialsJSON([]byte(auth.CredentialsJSON)),
			option.WithScopes(gcal.CalendarReadonlyScope))
		if err != nil {
			return nil, fmt.Errorf("create calendar service: %w", err)
		}
		return svc, nil
	}

	config, err := oauthConfig(auth.ClientSecretPath)
	if err != nil {
		return nil, err
	}

	token, err := loadToken(auth.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("load token (run the auth command first): %w", err)
	}

	svc, err := gcal.NewService(ctx, option.WithHTTPClient(config.Client(ctx, token)))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return svc, nil
}

// Authorize runs the interactive OAuth consent flow, writes the resulting
// token to tokenPath, and lists the account's calendars to confirm the token
// actually grants read access. The verification code is read from in, prompts
// go to out. Extra client options apply to the verification call.
func Authorize(ctx context.Context, secretPath, tokenPath string, in io.Reader, out io.Writer, opts ...option.ClientOption) error {
	config, err := oauthConfig(secretPath)
	if err != nil {
		return err
	}

	url := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Open the following link in your browser, then paste the authorization code:\n\n%s\n\nCode: ", url)

	var code string
	if _, err := fmt.Fscan(in, &code); err != nil {
		return fmt.Errorf("read authorization code: %w", err)
	}

	token, err := config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}

	if err := saveToken(tokenPath, token); err != nil {
		return err
	}
	fmt.Fprintf(out, "Token saved to %s\n", tokenPath)

	count, err := verifyAccess(ctx, config, token, opts)
	if err != nil {
		return fmt.Errorf("verify calendar access: %w", err)
	}
	fmt.Fprintf(out, "Access verified, %d calendars visible\n", count)
	return nil
}

// verifyAccess lists the account's calendars with the fresh token and returns
// the count. A token exchanged with the wrong scopes fails here instead of at
// the first poll.
func verifyAccess(ctx context.Context, config *oauth2.Config, token *oauth2.Token, opts []option.ClientOption) (int, error) {
	opts = append(opts, option.WithHTTPClient(config.Client(ctx, token)))
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return 0, fmt.Errorf("create calendar service: %w", err)
	}

	resp, err := svc.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("list calendars: %w", err)
	}
	return len(resp.Items), nil
}

func oauthConfig(secretPath string) (*oauth2.Config, error) {
	data, err := os.ReadFile(secretPath)
	if err != nil {
		return nil, fmt.Errorf("read client secret: %w", err)
	}
	config, err := google.ConfigFromJSON(data, gcal.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secret: %w", err)
	}
	return config, nil
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	return &token, nil
}

func saveToken(path string, token *oauth2.Token) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create token directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

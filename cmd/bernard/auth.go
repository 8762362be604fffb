package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/m-rots/stubbs"
)

// driveScopes are the OAuth scopes bernard needs: read-only Drive access
// plus IAM, which stubbs uses to sign the service-account JWT.
var driveScopes = []string{
	"https://www.googleapis.com/auth/drive.readonly",
	"https://www.googleapis.com/auth/iam",
}

type googleServiceAccount struct {
	Email      string `json:"client_email"`
	PrivateKey string `json:"private_key"`
}

// loadServiceAccount reads a Google service-account JSON key from path and
// returns an Authenticator backed by github.com/m-rots/stubbs.
func loadServiceAccount(path string) (*stubbs.Stubbs, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("bernard: opening service account: %w", err)
	}
	defer file.Close()

	sa := new(googleServiceAccount)
	if err := json.NewDecoder(file).Decode(sa); err != nil {
		return nil, fmt.Errorf("bernard: decoding service account: %w", err)
	}

	key, err := stubbs.ParseKey(sa.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("bernard: parsing service account key: %w", err)
	}

	return stubbs.New(sa.Email, &key, driveScopes, 3600), nil
}

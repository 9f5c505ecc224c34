package commands

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"pigeon/internal/auth"
	"pigeon/internal/config"
	"pigeon/internal/storage"
)

// AddUser creates a user directly in the database and prints the generated
// password. Meant to be run while the server is stopped.
func AddUser(ctx context.Context, username, displayName string, cfg *config.Config) error {
	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = bbStorage.Close() }()

	authService, err := auth.NewAuthService(ctx, auth.Config{TokenExpiry: cfg.TokenExpiry}, bbStorage)
	if err != nil {
		return fmt.Errorf("failed to init auth: %w", err)
	}

	password, err := generatePassword()
	if err != nil {
		return err
	}

	if displayName == "" {
		displayName = username
	}

	user, err := authService.AddUser(username, displayName, password)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("\nUser Created Successfully!\n")
	fmt.Printf("Username:  %s\n", user.UserName)
	fmt.Printf("User ID:   %s\n", user.ID)
	fmt.Printf("Password:  %s\n\n", password)
	fmt.Println("Please share the password with the user over a secure channel.")
	return nil
}

func generatePassword() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

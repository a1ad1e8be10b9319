// Package main prints a bcrypt hash for a password read from stdin, using the
// cost from the server configuration. Only auth.bcrypt_cost is read; the rest
// of the configuration may be incomplete. Operators use it to seed or reset a
// users.password_hash row directly in the database.
//
//	echo -n 'S3cretPassword' | hash
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/taskhub/taskhub-api/internal/auth"
	"github.com/taskhub/taskhub-api/internal/config"
	"github.com/taskhub/taskhub-api/internal/validation"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Read(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("failed to read password from stdin: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")

	if problems := validation.CheckPassword(password); len(problems) > 0 {
		return fmt.Errorf("password rejected: %s", strings.Join(problems, "; "))
	}

	hasher, err := auth.NewPasswordHasher(cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}
	hash, err := hasher.Hash(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

package main

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// readPassword prompts for the encryption password without echoing input.
// The password is never accepted as a command-line argument; when stdin is
// not a terminal the ARKIVE_PASSWORD environment variable is the only
// non-interactive path.
func readPassword(prompt string) ([]byte, error) {
	if v := os.Getenv("ARKIVE_PASSWORD"); v != "" {
		return []byte(v), nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("cannot read password: stdin is not a terminal (set ARKIVE_PASSWORD for non-interactive use)")
	}

	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("password must not be empty")
	}
	return password, nil
}

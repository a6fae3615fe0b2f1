package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// stdin is shared so that several secrets can be piped in one per line.
var stdin = bufio.NewReader(os.Stdin)

func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// readSecret asks for a secret with a masked prompt on a terminal, or
// reads the next line of stdin otherwise.
func readSecret(ctx context.Context, title string) (string, error) {
	if !interactive() {
		return readLine()
	}
	var secret string
	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title(title).
			EchoMode(huh.EchoModePassword).
			Value(&secret).
			Validate(required(title)),
	)).RunWithContext(ctx)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", strings.ToLower(title), err)
	}
	return secret, nil
}

// readNewSecret asks for a new password twice on a terminal.
func readNewSecret(ctx context.Context, title string) (string, error) {
	secret, err := readSecret(ctx, title)
	if err != nil || !interactive() {
		return secret, err
	}
	again, err := readSecret(ctx, "Repeat "+strings.ToLower(title))
	if err != nil {
		return "", err
	}
	if again != secret {
		return "", errors.New("passwords do not match")
	}
	return secret, nil
}

func readLine() (string, error) {
	line, err := stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func required(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
}

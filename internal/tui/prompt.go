// Package tui implements the CLI's small interactive surface: hidden
// passphrase and PIN entry, line input, and yes/no confirmation.
// Prompts write to stderr so piped stdout stays machine-readable.
package tui

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// One reader for all line input. A fresh bufio.Reader per prompt could
// swallow buffered bytes meant for the next one.
var stdin *bufio.Reader

func readStdinLine() (string, error) {
	if stdin == nil {
		stdin = bufio.NewReader(os.Stdin)
	}
	line, err := stdin.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadPassword reads a passphrase or PIN without echoing. A
// non-terminal stdin falls back to plain line input for scripts.
func ReadPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := readStdinLine()
		if err != nil {
			return nil, err
		}
		return []byte(line), nil
	}

	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return secret, nil
}

// ReadPasswordConfirm reads a passphrase twice and rejects a mismatch.
func ReadPasswordConfirm(prompt, confirmPrompt string) ([]byte, error) {
	first, err := ReadPassword(prompt)
	if err != nil {
		return nil, err
	}
	second, err := ReadPassword(confirmPrompt)
	if err != nil {
		return nil, err
	}
	if string(first) != string(second) {
		return nil, errors.New("passphrases do not match")
	}
	return first, nil
}

// Confirm asks a yes/no question. Empty or unrecognized input takes
// the default.
func Confirm(prompt string, defaultYes bool) (bool, error) {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}
	fmt.Fprintf(os.Stderr, "%s %s ", prompt, hint)

	line, err := readStdinLine()
	if err != nil {
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	default:
		return defaultYes, nil
	}
}

// ReadLine reads one trimmed line of input.
func ReadLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := readStdinLine()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// ReadLineDefault reads a line, substituting defaultValue for empty
// input. The default is shown in the prompt.
func ReadLineDefault(prompt, defaultValue string) (string, error) {
	if defaultValue != "" {
		prompt = fmt.Sprintf("%s [%s]: ", strings.TrimSuffix(prompt, ": "), defaultValue)
	}

	line, err := ReadLine(prompt)
	if err != nil {
		return "", err
	}
	if line == "" {
		return defaultValue, nil
	}
	return line, nil
}

// IsStdoutTerminal reports whether stdout is a terminal rather than a
// pipe or file.
func IsStdoutTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

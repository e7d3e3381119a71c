package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/awnumar/memguard"
)

// Read new password twice. Without terminal two lines are read from stdin
func (a *cliApp) promptNewPassword(w io.Writer) (string, error) {
	first, err := a.promptPassword(w, "Password: ")
	if err != nil {
		return "", err
	}
	defer memguard.WipeBytes(first)

	second, err := a.promptPassword(w, "Repeat password: ")
	if err != nil {
		return "", err
	}
	defer memguard.WipeBytes(second)

	if string(first) != string(second) {
		return "", errors.New("passwords don't match")
	}
	if len(first) == 0 {
		return "", errors.New("password must not be empty")
	}

	return string(first), nil
}

func (a *cliApp) promptPassword(w io.Writer, prompt string) ([]byte, error) {
	if a.readPassword != nil {
		if _, err := fmt.Fprint(w, prompt); err != nil {
			return nil, err
		}
		pw, err := a.readPassword()
		fmt.Fprintln(w)
		return pw, err
	}

	// Keep one reader so buffered lines are not lost between prompts
	reader, ok := a.stdin.(*bufio.Reader)
	if !ok {
		reader = bufio.NewReader(a.stdin)
		a.stdin = reader
	}

	line, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, fmt.Errorf("can't read password. Err: %w", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

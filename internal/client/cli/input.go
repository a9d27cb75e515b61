package cli

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

func (a *App) readLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := a.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// readPassword reads without echo when stdin is a terminal and falls back to
// a plain line read otherwise (tests, pipes).
func (a *App) readPassword(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return a.readLine("")
	}

	raw, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

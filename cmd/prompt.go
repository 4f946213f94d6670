package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// stdinIsTerminal is a var so tests can simulate an interactive session.
var stdinIsTerminal = func() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Printf("%s %s: ", prompt, suffix)

	var response string
	_, _ = fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}

// confirm asks before a destructive step. Without a terminal there is nobody
// to ask, so the caller has to pass -force.
func confirm(prompt string) (bool, error) {
	if !stdinIsTerminal() {
		return false, fmt.Errorf("refusing to continue without confirmation: stdin is not a terminal, use -force")
	}
	return PromptForConfirmation(prompt, false), nil
}

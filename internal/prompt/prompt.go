// Package prompt asks the user to confirm overwrites and resolve conflicts.
package prompt

import (
	"errors"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// ErrAborted is returned when the user quits a prompt.
var ErrAborted = errors.New("prompt aborted")

// Option is one choice of a Select.
type Option struct {
	Label string
	Value string
}

// Prompter asks questions.
type Prompter interface {
	Confirm(title, description string) (bool, error)
	Select(title, description string, options []Option) (string, error)
}

// IsInteractive reports whether stdin and stdout are terminals.
func IsInteractive() bool {
	return isTerminal(os.Stdin.Fd()) && isTerminal(os.Stdout.Fd())
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Terminal prompts with huh forms.
type Terminal struct{}

// NewTerminal returns a Terminal prompter.
func NewTerminal() *Terminal {
	return &Terminal{}
}

func (Terminal) Confirm(title, description string) (bool, error) {
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, ErrAborted
	}
	return ok, err
}

func (Terminal) Select(title, description string, options []Option) (string, error) {
	opts := make([]huh.Option[string], 0, len(options))
	for _, o := range options {
		opts = append(opts, huh.NewOption(o.Label, o.Value))
	}

	var value string
	err := huh.NewSelect[string]().
		Title(title).
		Description(description).
		Options(opts...).
		Value(&value).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return "", ErrAborted
	}
	return value, err
}

// Decline answers no to every confirmation and picks nothing. It stands in
// for a terminal when running non-interactively.
type Decline struct{}

func (Decline) Confirm(string, string) (bool, error) { return false, nil }

func (Decline) Select(string, string, []Option) (string, error) { return "", nil }

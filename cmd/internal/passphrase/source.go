package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source lazily resolves a keystore passphrase. It checks a passphrase file,
// then an environment variable, and finally prompts on the terminal. The value
// is cached after the first successful retrieval.
type Source struct {
	envVar  string
	file    string
	confirm bool

	once  sync.Once
	value string
	err   error
}

// Option customises a Source.
type Option func(*Source)

// WithFile reads the passphrase from the first line of path.
func WithFile(path string) Option {
	return func(s *Source) { s.file = strings.TrimSpace(path) }
}

// WithConfirmation prompts twice and requires both entries to match. Used when
// a new keystore is written.
func WithConfirmation() Option {
	return func(s *Source) { s.confirm = true }
}

// NewSource constructs a passphrase source that checks envVar before
// interactively prompting on the terminal.
func NewSource(envVar string, opts ...Option) *Source {
	s := &Source{envVar: strings.TrimSpace(envVar)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached passphrase or resolves it if this is the first call.
// Whitespace-only passphrases are rejected.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
		if s.err == nil && strings.TrimSpace(s.value) == "" {
			s.value, s.err = "", errors.New("keystore passphrase cannot be empty")
		}
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.file != "" {
		raw, err := os.ReadFile(s.file)
		if err != nil {
			return "", fmt.Errorf("read passphrase file: %w", err)
		}
		return strings.TrimRight(strings.SplitN(string(raw), "\n", 2)[0], "\r"), nil
	}
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		if s.envVar != "" {
			return "", fmt.Errorf("keystore passphrase required; set %s or run interactively", s.envVar)
		}
		return "", errors.New("keystore passphrase required and no terminal available")
	}
	first, err := prompt("Enter keystore passphrase: ")
	if err != nil {
		return "", err
	}
	if !s.confirm {
		return first, nil
	}
	second, err := prompt("Repeat keystore passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passphrases do not match")
	}
	return first, nil
}

func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	return string(bytes), nil
}

package passphrase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// Source resolves a keystore passphrase from an environment variable or by
// prompting the operator, and caches the first successful result.
type Source struct {
	envVar string
	lookup func(string) (string, bool)
	prompt func() (string, error)

	once  sync.Once
	value string
	err   error
}

// NewSource checks envVar before prompting on the terminal.
func NewSource(envVar string) *Source {
	return &Source{
		envVar: strings.TrimSpace(envVar),
		lookup: os.LookupEnv,
		prompt: promptTerminal(os.Stdin, os.Stderr),
	}
}

// Get returns the passphrase. An environment value is used verbatim; a
// whitespace-only passphrase is rejected from either source.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		if s.envVar != "" {
			if value, ok := s.lookup(s.envVar); ok {
				if strings.TrimSpace(value) == "" {
					s.err = fmt.Errorf("%s is set but empty", s.envVar)
					return
				}
				s.value = value
				return
			}
		}
		passphrase, err := s.prompt()
		if err != nil {
			if s.envVar != "" {
				s.err = fmt.Errorf("%w; set %s or run interactively", err, s.envVar)
			} else {
				s.err = err
			}
			return
		}
		if strings.TrimSpace(passphrase) == "" {
			s.err = errors.New("keystore passphrase cannot be empty")
			return
		}
		s.value = passphrase
	})
	return s.value, s.err
}

func promptTerminal(in *os.File, out io.Writer) func() (string, error) {
	return func() (string, error) {
		if !term.IsTerminal(int(in.Fd())) {
			return "", errors.New("keystore passphrase required and no terminal available")
		}
		fmt.Fprint(out, "Enter keystore passphrase: ")
		bytes, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read passphrase: %w", err)
		}
		return string(bytes), nil
	}
}

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const defaultServer = "http://localhost:8480"

// State is what kinshipctl remembers between runs.
type State struct {
	Server   string `toml:"server"`
	Token    string `toml:"token,omitempty"`
	Username string `toml:"username,omitempty"`
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".kinshipctl.toml"
	}
	return filepath.Join(dir, "kinship", "kinshipctl.toml")
}

// loadState reads path. A missing file yields the defaults.
func loadState(path string) (*State, error) {
	s := &State{Server: defaultServer}
	if _, err := toml.DecodeFile(path, s); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read state %s: %w", path, err)
	}
	if s.Server == "" {
		s.Server = defaultServer
	}
	return s, nil
}

// save writes the state readable only by the user; it holds a session token.
func (s *State) save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(s); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode state: %w", err)
	}
	return f.Close()
}

//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.fitreg.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "fitreg")
	}
	return "fitreg-data"
}

func apiKeyHint(account string) string {
	return fmt.Sprintf(" or macOS Keychain (service: %s, account: %s)", Service, account)
}

// defaultsBackend keeps config in the user defaults database, one flat key
// per dotted config key, e.g. `defaults read com.fitreg.app llm.model`.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &defaultsBackend{domain: defaultsDomain}
}

func (b *defaultsBackend) Location() string {
	return "defaults domain " + b.domain
}

// run invokes the defaults tool. missing is true when the key does not exist,
// which defaults signals with exit status 1.
func (b *defaultsBackend) run(verb, key string, args ...string) (out string, missing bool, err error) {
	argv := append([]string{verb, b.domain, key}, args...)
	raw, err := exec.Command("defaults", argv...).CombinedOutput()
	out = strings.TrimSpace(string(raw))
	if err == nil {
		return out, false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && verb != "write" {
		return "", true, nil
	}
	return "", false, fmt.Errorf("defaults %s %s: %w: %s", verb, key, err, out)
}

func (b *defaultsBackend) GetString(key string) (string, bool, error) {
	s, missing, err := b.run("read", key)
	return s, !missing && err == nil, err
}

func (b *defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.GetString(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := asInt(key, s)
	return i, true, err
}

func (b *defaultsBackend) SetString(key, val string) error {
	_, _, err := b.run("write", key, "-string", val)
	return err
}

func (b *defaultsBackend) SetInt(key string, val int) error {
	_, _, err := b.run("write", key, "-int", strconv.Itoa(val))
	return err
}

// Delete removes key. Deleting an absent key is not an error.
func (b *defaultsBackend) Delete(key string) error {
	_, _, err := b.run("delete", key)
	return err
}

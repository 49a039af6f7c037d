//go:build darwin

package config

import (
	"bytes"
	"fmt"
	"os/exec"
)

// keychainGet reads a generic password from the login keychain.
func keychainGet(service, account string) ([]byte, error) {
	out, err := exec.Command("security", "find-generic-password", "-s", service, "-a", account, "-w").Output()
	if err != nil {
		return nil, fmt.Errorf("keychain item %s/%s: %w", service, account, err)
	}
	return bytes.TrimRight(out, "\n"), nil
}

// keychainSet stores value, replacing any existing item (-U).
func keychainSet(service, account, value string) error {
	cmd := exec.Command("security", "add-generic-password", "-U", "-s", service, "-a", account, "-w", value)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("storing keychain item %s/%s: %w: %s", service, account, err, bytes.TrimSpace(out))
	}
	return nil
}

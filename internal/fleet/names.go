package fleet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"regexp"
	"strings"
)

// NamePrefix starts every generated device name.
const NamePrefix = "ESP32_"

const hexDigits = "0123456789ABCDEF"

var nameRe = regexp.MustCompile(`^ESP32_[0-9A-F]{6}$`)

// ErrNoDevices is returned when a device list is empty.
var ErrNoDevices = errors.New("fleet: no devices")

// ValidName reports whether name has the ESP32_XXXXXX form.
func ValidName(name string) bool {
	return nameRe.MatchString(name)
}

// GenerateNames returns n unique device names.
func GenerateNames(n int, rng *rand.Rand) []string {
	seen := make(map[string]struct{}, n)
	names := make([]string, 0, n)
	var b strings.Builder
	for len(names) < n {
		b.Reset()
		b.WriteString(NamePrefix)
		for range 6 {
			b.WriteByte(hexDigits[rng.IntN(len(hexDigits))])
		}
		name := b.String()
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// LoadNames reads a JSON array of device names.
func LoadNames(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading device list: %w", err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("parsing device list %s: %w", path, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDevices, path)
	}
	return names, nil
}

// SaveNames writes names as a JSON array.
func SaveNames(path string, names []string) error {
	data, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("encoding device list: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing device list: %w", err)
	}
	return nil
}

// ResolveNames returns the first n names from path when it holds at least n.
// Otherwise it generates n fresh names and stores them at path.
func ResolveNames(path string, n int, rng *rand.Rand) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("fleet: device count must be positive, got %d", n)
	}

	names, err := LoadNames(path)
	switch {
	case err == nil && len(names) >= n:
		return names[:n], nil
	case err != nil && !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, ErrNoDevices):
		return nil, err
	}

	names = GenerateNames(n, rng)
	if err := SaveNames(path, names); err != nil {
		return nil, err
	}
	return names, nil
}

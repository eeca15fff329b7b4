package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// source answers lookups from the explicit map, then the process environment, then the dotenv file.
type source struct {
	explicit map[string]string
	system   bool
	dotenv   map[string]string
}

func openSource(o loaderOptions) (source, error) {
	dotenv, err := readDotEnv(o.envFile)
	if err != nil {
		return source{}, err
	}
	return source{explicit: o.envMap, system: o.systemEnv, dotenv: dotenv}, nil
}

// EnvironmentValues returns the merged key/value view Load reads from, so callers can build
// dependencies such as the secret fetcher before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	env, err := openSource(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(env.dotenv)+len(env.explicit))
	for k, v := range env.dotenv {
		values[k] = v
	}
	if env.system {
		for _, entry := range os.Environ() {
			if k, v, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(k) != "" {
				values[strings.TrimSpace(k)] = v
			}
		}
	}
	for k, v := range env.explicit {
		values[k] = v
	}
	return values, nil
}

func (s source) lookup(key string) string {
	if v, ok := s.explicit[key]; ok {
		return v
	}
	if s.system {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
	}
	return s.dotenv[key]
}

func (s source) str(key, fallback string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return fallback
}

func (s source) lower(key, fallback string) string {
	return strings.ToLower(s.str(key, fallback))
}

// duration, integer and boolean fall back on unparsable values as well as on missing ones.
func (s source) duration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(s.lookup(key)); err == nil {
		return d
	}
	return fallback
}

func (s source) integer(key string, fallback int) int {
	if n, err := strconv.Atoi(s.lookup(key)); err == nil {
		return n
	}
	return fallback
}

func (s source) boolean(key string, fallback bool) bool {
	switch strings.ToLower(s.lookup(key)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	return fallback
}

// list splits a comma separated value, dropping blanks.
func (s source) list(key string) []string {
	out := []string{}
	for _, part := range strings.Split(s.lookup(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// keyValues parses "env=value,env=value" with lower-cased keys.
func (s source) keyValues(key string) map[string]string {
	out := map[string]string{}
	for _, entry := range s.list(key) {
		k, v, ok := strings.Cut(entry, "=")
		k, v = strings.ToLower(strings.TrimSpace(k)), strings.TrimSpace(v)
		if ok && k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

// readDotEnv parses KEY=value lines, tolerating comments, blank lines, "export " and quotes. A
// missing file yields no values.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if k = strings.TrimSpace(k); ok && k != "" {
			values[k] = strings.Trim(strings.TrimSpace(v), `"'`)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return values, nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// getEnv returns the value of key, or fallback when it is unset.
// Surrounding quotes are stripped, as .env files often carry them.
func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		if len(val) >= 2 && ((val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'')) {
			return val[1 : len(val)-1]
		}
		return val
	}
	return fallback
}

// getEnvInt returns fallback when key is unset or empty. A value that does
// not parse is an error, never a silent fallback.
func getEnvInt(key string, fallback int) (int, error) {
	s := strings.TrimSpace(getEnv(key, ""))
	if s == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return fallback, fmt.Errorf("invalid integer %q", s)
	}
	return i, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(getEnv(key, ""))
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback, fmt.Errorf("invalid duration %q (use a unit, e.g. 1s or 500ms)", s)
	}
	return d, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	s := strings.ToLower(strings.TrimSpace(getEnv(key, "")))
	switch s {
	case "":
		return fallback, nil
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return fallback, fmt.Errorf("invalid boolean %q (expected true/false, 1/0 or yes/no)", s)
}

// getEnvCodes reads a comma separated list of status codes.
// An unset or empty variable yields fallback; a malformed one is an error.
func getEnvCodes(key string, fallback []int) ([]int, error) {
	s := strings.TrimSpace(getEnv(key, ""))
	if s == "" {
		return fallback, nil
	}
	codes, err := ParseStatusCodes(s)
	if err != nil {
		return fallback, fmt.Errorf("invalid status code list %q: %w", s, err)
	}
	return codes, nil
}

// ParseStatusCodes parses "429,418" style lists. Blank items are ignored.
func ParseStatusCodes(s string) ([]int, error) {
	var codes []int
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		c, err := strconv.Atoi(item)
		if err != nil {
			return nil, fmt.Errorf("invalid status code %q", item)
		}
		codes = append(codes, c)
	}
	return codes, nil
}

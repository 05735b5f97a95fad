// ABOUTME: Loads environment variables from .env files at startup.
// ABOUTME: Sets variables only when not already present in the environment (no clobber).
package main

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// parseDotEnvLine splits one .env line into a key and value. Comments, blank
// lines and lines without '=' report ok=false. An "export " prefix and one
// layer of matching quotes around the value are stripped.
func parseDotEnvLine(raw string) (key, value string, ok bool) {
	line := strings.TrimSpace(raw)
	if line == "" || line[0] == '#' {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, ok = strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", false
	}
	value = strings.TrimSpace(value)
	if n := len(value); n >= 2 && (value[0] == '"' || value[0] == '\'') && value[n-1] == value[0] {
		value = value[1 : n-1]
	}
	return key, value, true
}

// loadDotEnv applies path to the environment and returns how many variables it
// set. Unreadable files are skipped.
func loadDotEnv(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	set := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := parseDotEnvLine(scanner.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if os.Setenv(key, value) == nil {
			set++
		}
	}
	return set
}

// dotEnvCandidates lists the files loadDotEnvAuto reads, earliest wins:
// .env in the working directory and each parent, .env beside the executable,
// then config.env in the buddy config directory.
func dotEnvCandidates() []string {
	var paths []string
	if wd, err := os.Getwd(); err == nil {
		for dir := wd; ; dir = filepath.Dir(dir) {
			paths = append(paths, filepath.Join(dir, ".env"))
			if filepath.Dir(dir) == dir {
				break
			}
		}
	}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), ".env"))
	}
	if dir, err := defaultConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "config.env"))
	}
	return paths
}

func loadDotEnvAuto() {
	seen := make(map[string]bool)
	for _, p := range dotEnvCandidates() {
		if seen[p] {
			continue
		}
		seen[p] = true
		loadDotEnv(p)
	}
}

package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the name of the integrity manifest kept next to the config.
const ChecksumFile = ".checksums"

// ChecksumManifest maps config file basenames to BLAKE3 hashes.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// LockReport describes what `config lock` wrote.
type LockReport struct {
	ConfigPath   string
	ChecksumPath string
	Hash         string
}

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Lock hashes the config file and records it in the directory's manifest,
// preserving entries for other files.
func Lock(configPath string) (*LockReport, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(absPath)

	manifest, err := LoadChecksums(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		manifest = &ChecksumManifest{Version: 1, Hashes: make(map[string]string)}
	}

	hash, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", absPath, err)
	}
	manifest.Hashes[filepath.Base(absPath)] = hash
	manifest.GeneratedAt = time.Now().UTC().Format(time.RFC3339)

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}

	checksumPath := filepath.Join(dir, ChecksumFile)
	if err := os.WriteFile(checksumPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}

	return &LockReport{ConfigPath: absPath, ChecksumPath: checksumPath, Hash: hash}, nil
}

// LoadChecksums reads the manifest from dir. A missing manifest is returned
// as an error satisfying os.IsNotExist.
func LoadChecksums(dir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ChecksumFile))
	if err != nil {
		return nil, err
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	if manifest.Hashes == nil {
		manifest.Hashes = make(map[string]string)
	}
	return &manifest, nil
}

// verifyConfigHash checks absPath against the manifest in its directory.
// Without a manifest there is nothing to verify.
func verifyConfigHash(absPath string) error {
	dir := filepath.Dir(absPath)
	manifest, err := LoadChecksums(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	base := filepath.Base(absPath)
	expected, ok := manifest.Hashes[base]
	if !ok {
		return fmt.Errorf("config file %s has no hash in %s\n"+
			"Run: rfidgate config lock --config %s", base, filepath.Join(dir, ChecksumFile), absPath)
	}

	actual, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("config verification failed for %s: expected %s, got %s\n"+
			"If you edited this file intentionally, run: rfidgate config lock --config %s",
			absPath, expected, actual, absPath)
	}
	return nil
}

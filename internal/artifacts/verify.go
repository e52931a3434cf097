package artifacts

import (
	"bufio"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

// ErrNoChecksum is returned by VerifyChecksum when no .sha256 sibling exists.
var ErrNoChecksum = errors.New("no checksum file")

// FileSHA256 returns the hex-encoded SHA-256 digest of a file.
func FileSHA256(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("failed to compute checksum: %w", err)
	}
	return fmt.Sprintf("%x", hash.Sum(nil)), nil
}

// readDigest returns the first field of a sha256sum-style file.
func readDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if fields := strings.Fields(scanner.Text()); len(fields) > 0 {
			return strings.ToLower(fields[0]), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("checksum file %s is empty", path)
}

// VerifyChecksum compares path against its "<path>.sha256" sibling.
// ErrNoChecksum is returned when there is no sibling; a mismatch is a
// *ChecksumError.
func VerifyChecksum(path string) error {
	expected, err := readDigest(path + ".sha256")
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNoChecksum
	}
	if err != nil {
		return fmt.Errorf("failed to read checksum for %s: %w", path, err)
	}

	actual, err := FileSHA256(path)
	if err != nil {
		return err
	}
	if actual != expected {
		return &ChecksumError{Path: path, Expected: expected, Actual: actual}
	}
	return nil
}

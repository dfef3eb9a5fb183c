// Package update checks GitHub releases for a newer daemon version.
// It only reports; installing the new binary is left to the user's
// package manager.
package update

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/mod/semver"
)

const (
	githubAPIURL  = "https://api.github.com/repos/cmux-cli/sandsync/releases/latest"
	cacheFileName = "update_check.json"
	cacheDuration = 1 * time.Hour
)

// Info describes the latest published release relative to the
// running build.
type Info struct {
	CurrentVersion string
	LatestVersion  string
	ReleaseURL     string
	IsNewer        bool
}

type cachedCheck struct {
	CheckedAt  time.Time `json:"checked_at"`
	Version    string    `json:"version"`
	ReleaseURL string    `json:"release_url"`
}

// Check fetches the latest release and compares it to
// currentVersion. Results are cached for an hour under cacheDir to
// keep repeated invocations off the GitHub API.
func Check(currentVersion, cacheDir string) (*Info, error) {
	if cached, ok := loadCache(cacheDir); ok {
		return makeInfo(
			currentVersion, cached.Version, cached.ReleaseURL,
		), nil
	}

	latest, releaseURL, err := fetchLatestRelease()
	if err != nil {
		return nil, fmt.Errorf("check for updates: %w", err)
	}
	saveCache(latest, releaseURL, cacheDir)

	return makeInfo(currentVersion, latest, releaseURL), nil
}

func makeInfo(current, latest, releaseURL string) *Info {
	return &Info{
		CurrentVersion: current,
		LatestVersion:  latest,
		ReleaseURL:     releaseURL,
		IsNewer:        isNewer(latest, current),
	}
}

func fetchLatestRelease() (version, releaseURL string, err error) {
	req, err := http.NewRequest("GET", githubAPIURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "sandsync-update")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf(
			"GitHub API returned %s", resp.Status,
		)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}
	release := gjson.ParseBytes(body)
	tag := release.Get("tag_name").String()
	if tag == "" {
		return "", "", fmt.Errorf("release response missing tag_name")
	}
	return tag, release.Get("html_url").String(), nil
}

func loadCache(cacheDir string) (cachedCheck, bool) {
	var cached cachedCheck
	data, err := os.ReadFile(filepath.Join(cacheDir, cacheFileName))
	if err != nil {
		return cached, false
	}
	if err := json.Unmarshal(data, &cached); err != nil {
		return cached, false
	}
	if cached.Version == "" ||
		time.Since(cached.CheckedAt) >= cacheDuration {
		return cached, false
	}
	return cached, true
}

func saveCache(version, releaseURL, cacheDir string) {
	data, err := json.Marshal(cachedCheck{
		CheckedAt:  time.Now(),
		Version:    version,
		ReleaseURL: releaseURL,
	})
	if err != nil {
		return
	}
	cachePath := filepath.Join(cacheDir, cacheFileName)
	_ = os.MkdirAll(filepath.Dir(cachePath), 0o755)
	_ = os.WriteFile(cachePath, data, 0o600)
}

// isNewer reports whether latest is a higher semver than current. A
// current version that is not valid semver (dev builds, "unknown")
// always counts as older so the user hears about real releases.
func isNewer(latest, current string) bool {
	lv := normalize(latest)
	if !semver.IsValid(lv) {
		return false
	}
	cv := normalize(current)
	if !semver.IsValid(cv) {
		return true
	}
	return semver.Compare(lv, cv) > 0
}

func normalize(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return v
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// InputDocument is the JSON input file shape.
type InputDocument struct {
	ProfileURL string `json:"profileUrl"`
}

// ResolveTargets picks the profile URLs to extract. Sources in priority
// order: flag values, the JSON input file (flag or input.file), then
// input.profile_url. Every URL must be absolute http(s).
func ResolveTargets(flagURLs []string, inputFile string, in InputConfig) ([]string, error) {
	var raw []string
	switch {
	case len(flagURLs) > 0:
		raw = flagURLs
	case inputFile != "" || in.File != "":
		path := inputFile
		if path == "" {
			path = in.File
		}
		doc, err := ReadInputDocument(path)
		if err != nil {
			return nil, err
		}
		raw = []string{doc.ProfileURL}
	case in.ProfileURL != "":
		raw = []string{in.ProfileURL}
	default:
		return nil, newError("input.profile_url", "profileUrl is required")
	}

	targets := make([]string, 0, len(raw))
	for _, r := range raw {
		u, err := ValidateProfileURL(r)
		if err != nil {
			return nil, err
		}
		targets = append(targets, u)
	}
	return targets, nil
}

// ReadInputDocument loads {"profileUrl": "..."} from path.
func ReadInputDocument(path string) (InputDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return InputDocument{}, &Error{Key: "input.file", Err: fmt.Errorf("read %s: %w", path, err)}
	}
	var doc InputDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return InputDocument{}, &Error{Key: "input.file", Err: fmt.Errorf("decode %s: %w", path, err)}
	}
	return doc, nil
}

// ValidateProfileURL trims raw and checks it is an absolute http(s) URL.
func ValidateProfileURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", newError("input.profile_url", "profileUrl is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", &Error{Key: "input.profile_url", Err: err}
	}
	if !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", newError("input.profile_url", fmt.Sprintf("%q is not an absolute http(s) URL", raw))
	}
	return u.String(), nil
}

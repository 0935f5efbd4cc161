package termmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/text/language"
)

// Filename returns the glossary filename for the given source and target
// languages. Uses 2-letter language base codes (e.g., "en", "de").
func Filename(sourceLang, targetLang string) string {
	return "glossary." + normalizeLanguageCode(sourceLang) + "-" + normalizeLanguageCode(targetLang) + ".json"
}

// FilePath returns the full path to the glossary file in the given directory.
func FilePath(dir, sourceLang, targetLang string) string {
	return filepath.Join(dir, Filename(sourceLang, targetLang))
}

// FindInAncestors walks up from startDir looking for a glossary file.
// Returns the first found path or empty string.
func FindInAncestors(startDir, sourceLang, targetLang string) string {
	filename := Filename(sourceLang, targetLang)
	currentDir := startDir

	for {
		candidate := filepath.Join(currentDir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			break
		}
		currentDir = parentDir
	}

	return ""
}

// Load reads a glossary from a JSON file.
func Load(path string) (TermMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tm TermMap
	if err := json.Unmarshal(data, &tm); err != nil {
		return nil, fmt.Errorf("parse glossary %s: %w", path, err)
	}

	return tm, nil
}

// LoadNearest loads the closest glossary above startDir. A missing file
// yields an empty map.
func LoadNearest(startDir, sourceLang, targetLang string) (TermMap, error) {
	path := FindInAncestors(startDir, sourceLang, targetLang)
	if path == "" {
		return TermMap{}, nil
	}
	tm, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return TermMap{}, nil
	}
	return tm, err
}

// Save writes a glossary to a JSON file with indentation.
func Save(path string, tm TermMap) error {
	data, err := json.MarshalIndent(tm, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// normalizeLanguageCode parses a language string and returns its 2-letter base code.
func normalizeLanguageCode(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		return lang
	}
	base, _ := tag.Base()
	return base.String()
}

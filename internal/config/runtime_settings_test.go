package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/MimeLyc/contextual-book-translator/internal/translator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() RuntimeSettings {
	return RuntimeSettings{
		Translate: EndpointConfig{
			URLs:   []string{"https://a.example/v1", "https://b.example/v1"},
			APIKey: "ak-test",
			Model:  "model-test",
		},
		TargetLanguage: "zh",
	}
}

func TestRuntimeSettings_Validate(t *testing.T) {
	valid := validSettings()
	require.NoError(t, valid.Validate())

	noURLs := valid
	noURLs.Translate.URLs = nil
	assert.ErrorIs(t, noURLs.Validate(), translator.ErrMissingEndpoint)

	noModel := valid
	noModel.Translate.Model = " "
	assert.ErrorIs(t, noModel.Validate(), translator.ErrMissingEndpoint)

	badClassify := valid
	badClassify.Classify.URLs = []string{" "}
	assert.Error(t, badClassify.Validate())

	invalidLang := valid
	invalidLang.TargetLanguage = ""
	require.Error(t, invalidLang.Validate())
}

func TestRuntimeSettingsFile_RoundTrip(t *testing.T) {
	tmp := t.TempDir()
	filePath := filepath.Join(tmp, "settings", "runtime.json")
	input := validSettings()

	require.NoError(t, WriteRuntimeSettingsFile(filePath, input))

	got, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, input, got)

	info, err := os.Stat(filePath)
	require.NoError(t, err)
	assert.False(t, info.IsDir())
	_, err = os.Stat(filePath + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWithRuntimeSettings_OverridesConfig(t *testing.T) {
	t.Setenv("LLM_API_KEY", "env-key")
	t.Setenv("LLM_API_URLS", "https://env.example/v1")
	t.Setenv("LLM_MODEL", "env-model")

	override := validSettings()
	override.Translate.APIKey = ""
	override.Classify = EndpointConfig{URLs: []string{"https://judge.example/v1"}, Model: "judge"}
	override.TargetLanguage = "ja"

	cfg, err := NewFromEnv(WithRuntimeSettings(override))
	require.NoError(t, err)
	assert.Equal(t, override.Translate.URLs, cfg.LLM.Translate.URLs)
	assert.Equal(t, "env-key", cfg.LLM.Translate.APIKey, "empty key keeps the env value")
	assert.Equal(t, "model-test", cfg.LLM.Translate.Model)
	assert.Equal(t, "judge", cfg.LLM.Classify.Model)
	assert.Equal(t, "ja", cfg.Translate.TargetLanguage.String())
}

func TestRuntimeSettingsStore_UpdatePersistsFile(t *testing.T) {
	tmp := t.TempDir()
	filePath := filepath.Join(tmp, "runtime-settings.json")

	store, err := NewRuntimeSettingsStore(filePath, RuntimeSettings{})
	require.NoError(t, err)
	_, err = store.Endpoints().Resolve(translator.UsageTranslate)
	assert.ErrorIs(t, err, translator.ErrMissingEndpoint)

	next := validSettings()
	got, err := store.UpdateRuntimeSettings(next)
	require.NoError(t, err)
	assert.Equal(t, next, got)

	resolved, err := store.Endpoints().Resolve(translator.UsageClassify)
	require.NoError(t, err)
	assert.Equal(t, next.Translate.URLs, resolved.URLs)

	fromFile, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, next, fromFile)

	bad := next
	bad.TargetLanguage = ""
	_, err = store.UpdateRuntimeSettings(bad)
	require.Error(t, err)
	current, _ := store.GetRuntimeSettings()
	assert.Equal(t, next, current)
}

func TestRuntimeSettings_Redacted(t *testing.T) {
	s := validSettings()
	red := s.Redacted()
	assert.Equal(t, "***", red.Translate.APIKey)
	assert.Equal(t, "", red.Classify.APIKey)
	assert.Equal(t, "ak-test", s.Translate.APIKey)
}

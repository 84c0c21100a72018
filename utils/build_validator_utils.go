package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/sitepress-engine/models"
)

// Executables a build or install command may start with. Anything else is
// rejected before a subprocess is ever spawned.
var allowedExecutables = map[string]bool{
	"npm":  true,
	"yarn": true,
	"pnpm": true,
	"npx":  true,
	"node": true,
	"bun":  true,
}

// Node major versions with a maintained container image
var allowedNodeVersions = map[string]bool{
	"16": true,
	"18": true,
	"20": true,
	"22": true,
}

var (
	branchPattern = regexp.MustCompile(`^[a-zA-Z0-9._/-]+$`)
	envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Characters that would let a command break out of argv execution if it ever
// reached a shell. Their presence anywhere in a command fails validation.
const shellMetaChars = ";&|<>`$(){}\n\r"

// ValidateBuildConfig rejects unsafe build configuration before any
// subprocess runs. Every failing check contributes one reason.
func ValidateBuildConfig(cfg models.BuildConfig) models.ValidationResult {
	var errs []string

	if err := ValidateRepoURL(cfg.RepoURL); err != nil {
		errs = append(errs, err.Error())
	}

	if cfg.InstallCmd != "" {
		if err := ValidateCommand(cfg.InstallCmd); err != nil {
			errs = append(errs, fmt.Sprintf("install command: %v", err))
		}
	}

	if cfg.BuildCmd == "" {
		errs = append(errs, "build command is required")
	} else if err := ValidateCommand(cfg.BuildCmd); err != nil {
		errs = append(errs, fmt.Sprintf("build command: %v", err))
	}

	if err := validateRelativeDir("output directory", cfg.OutputDir); err != nil {
		errs = append(errs, err.Error())
	}
	if cfg.RootDir != "" {
		if err := validateRelativeDir("root directory", cfg.RootDir); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if !allowedNodeVersions[cfg.NodeVersion] {
		errs = append(errs, fmt.Sprintf("node version %q is not supported", cfg.NodeVersion))
	}

	if cfg.Branch == "" || !branchPattern.MatchString(cfg.Branch) {
		errs = append(errs, fmt.Sprintf("branch name %q is invalid", cfg.Branch))
	}

	for key := range cfg.EnvVars {
		if !envKeyPattern.MatchString(key) {
			errs = append(errs, fmt.Sprintf("environment variable key %q is invalid", key))
		}
	}

	return models.ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// ValidateRepoURL accepts well-formed HTTPS GitHub repository URLs only
func ValidateRepoURL(repoURL string) error {
	if repoURL == "" {
		return fmt.Errorf("repository URL is required")
	}
	parsed, err := url.Parse(repoURL)
	if err != nil {
		return fmt.Errorf("repository URL is not a valid URL")
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("repository URL must use https")
	}
	host := strings.ToLower(parsed.Hostname())
	if host != "github.com" && !strings.HasSuffix(host, ".github.com") {
		return fmt.Errorf("repository host %q is not allowed", host)
	}
	if strings.ContainsAny(repoURL, shellMetaChars+" ") {
		return fmt.Errorf("repository URL contains unsafe characters")
	}
	return nil
}

// ValidateCommand enforces the command whitelist: a single known executable,
// plain arguments, no shell metacharacters and no command chaining.
func ValidateCommand(command string) error {
	if strings.ContainsAny(command, shellMetaChars) {
		return fmt.Errorf("contains shell metacharacters")
	}
	if strings.Contains(command, "&&") || strings.Contains(command, "||") {
		return fmt.Errorf("command chaining is not allowed")
	}

	fields := strings.Fields(command)
	if len(fields) == 0 {
		return fmt.Errorf("command is empty")
	}
	if !allowedExecutables[fields[0]] {
		return fmt.Errorf("executable %q is not whitelisted", fields[0])
	}
	for _, arg := range fields[1:] {
		if strings.Contains(arg, "..") {
			return fmt.Errorf("argument %q attempts path traversal", arg)
		}
		if strings.HasPrefix(arg, "/") {
			return fmt.Errorf("argument %q uses an absolute path", arg)
		}
	}
	return nil
}

// SplitCommand turns a validated command string into executable + argv
func SplitCommand(command string) (string, []string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], fields[1:]
}

func validateRelativeDir(name, dir string) error {
	if dir == "" {
		return fmt.Errorf("%s is required", name)
	}
	if strings.HasPrefix(dir, "/") {
		return fmt.Errorf("%s must be relative", name)
	}
	if strings.Contains(dir, "..") {
		return fmt.Errorf("%s must not traverse outside the workspace", name)
	}
	if strings.ContainsRune(dir, 0) {
		return fmt.Errorf("%s contains a null byte", name)
	}
	// Directory names reach a container entrypoint script, so they carry the
	// same metacharacter ban as commands
	if strings.ContainsAny(dir, shellMetaChars) {
		return fmt.Errorf("%s contains shell metacharacters", name)
	}
	if strings.ContainsAny(dir, " \t'\"\\") {
		return fmt.Errorf("%s contains whitespace or quote characters", name)
	}
	return nil
}

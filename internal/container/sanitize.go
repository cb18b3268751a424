package container

import (
	"errors"
	"regexp"
	"strings"
)

// Pattern definitions for sanitizing values handed to an os/exec-invoked
// docker CLI, grounded on internal/exec/safety.go's executable-value
// validation and adapted to the narrower alphabets container names, domain
// names, and workspace paths actually need (§4.13).
var (
	shellMetachars = regexp.MustCompile(`[;&|` + "`" + `$<>]`)
	controlChars   = regexp.MustCompile(`[\r\n\x00]`)
	quoteChars     = regexp.MustCompile(`["']`)

	// containerNamePattern matches the docker daemon's own name grammar,
	// tightened to exclude a leading separator (option-injection guard).
	containerNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

	// domainPattern matches a bare DNS label sequence (RFC1035-ish,
	// no wildcards, no trailing dot required).
	domainPattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,62}[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]{0,62}[A-Za-z0-9])?)*$`)
)

// Sanitation errors, named per failure mode so callers can log tiered
// error handling (§7) without string-matching.
var (
	ErrEmptyValue      = errors.New("container: value is empty")
	ErrControlChar     = errors.New("container: value contains control characters")
	ErrShellMetachar   = errors.New("container: value contains shell metacharacters")
	ErrQuoteChar       = errors.New("container: value contains quote characters")
	ErrOptionInjection = errors.New("container: value starts with dash (option injection)")
	ErrInvalidName     = errors.New("container: value is not a valid container name")
	ErrInvalidDomain   = errors.New("container: value is not a valid domain name")
	ErrPathEscape      = errors.New("container: path escapes the workspace root")
)

func basicGuard(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", ErrEmptyValue
	}
	if controlChars.MatchString(trimmed) {
		return "", ErrControlChar
	}
	if shellMetachars.MatchString(trimmed) {
		return "", ErrShellMetachar
	}
	if quoteChars.MatchString(trimmed) {
		return "", ErrQuoteChar
	}
	if strings.HasPrefix(trimmed, "-") {
		return "", ErrOptionInjection
	}
	return trimmed, nil
}

// SanitizeContainerName validates a value destined for `docker --name` or
// any docker subcommand's positional container argument.
func SanitizeContainerName(value string) (string, error) {
	trimmed, err := basicGuard(value)
	if err != nil {
		return "", err
	}
	if !containerNamePattern.MatchString(trimmed) {
		return "", ErrInvalidName
	}
	return trimmed, nil
}

// SanitizeDomain validates a value destined for an /etc/hosts entry or an
// allowedDomains network policy rule.
func SanitizeDomain(value string) (string, error) {
	trimmed, err := basicGuard(value)
	if err != nil {
		return "", err
	}
	if !domainPattern.MatchString(trimmed) {
		return "", ErrInvalidDomain
	}
	return trimmed, nil
}

// SanitizeWorkspacePath validates a value destined for `docker cp` as a
// path relative to a container's workspace root, rejecting traversal and
// shell-unsafe characters. The returned path is always relative.
func SanitizeWorkspacePath(value string) (string, error) {
	trimmed, err := basicGuard(value)
	if err != nil {
		return "", err
	}
	cleaned := strings.TrimPrefix(trimmed, "/")
	for _, segment := range strings.Split(cleaned, "/") {
		if segment == ".." {
			return "", ErrPathEscape
		}
	}
	return cleaned, nil
}

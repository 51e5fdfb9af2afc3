// Package validation screens scan targets before they reach the backend.
package validation

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

type TargetType string

const (
	TargetDomain TargetType = "domain"
	TargetIP     TargetType = "ip"
	TargetURL    TargetType = "url"
)

var (
	ErrEmptyTarget   = errors.New("target cannot be empty")
	ErrPrivateTarget = errors.New("private or local targets are not reachable by the scanning backend")
)

var domainRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// TargetValidationResult contains the result of target validation
type TargetValidationResult struct {
	Valid         bool
	TargetType    TargetType
	Host          string
	NormalizedURL string
	Warnings      []string
	Error         error
}

// Options tune ValidateTarget.
type Options struct {
	// AllowPrivate accepts localhost, RFC 1918 and internal-TLD targets,
	// for backends deployed inside the network they scan.
	AllowPrivate bool
}

// ValidateTarget accepts a domain, IP address or http(s) URL. The scan still
// receives the target as typed; NormalizedURL is informational.
func ValidateTarget(target string, opts Options) *TargetValidationResult {
	result := &TargetValidationResult{
		Warnings: []string{},
	}

	target = strings.TrimSpace(target)
	if target == "" {
		result.Error = ErrEmptyTarget
		return result
	}

	switch {
	case net.ParseIP(target) != nil:
		result.TargetType = TargetIP
		result.Host = target
		result.NormalizedURL = "https://" + target

	case strings.Contains(target, "://"):
		parsed, err := url.Parse(target)
		if err != nil {
			result.Error = fmt.Errorf("invalid URL format: %w", err)
			return result
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			result.Error = fmt.Errorf("unsupported URL scheme %q: expected http or https", parsed.Scheme)
			return result
		}
		host := parsed.Hostname()
		if host == "" || (net.ParseIP(host) == nil && !domainRegex.MatchString(host) && !isLocalName(host)) {
			result.Error = fmt.Errorf("URL %q has no valid host", target)
			return result
		}
		if parsed.Scheme == "http" {
			result.Warnings = append(result.Warnings, "Plain HTTP target - transport security checks will report against it")
		}
		result.TargetType = TargetURL
		result.Host = host
		result.NormalizedURL = target

	case domainRegex.MatchString(target) || isLocalName(target):
		result.TargetType = TargetDomain
		result.Host = target
		result.NormalizedURL = "https://" + target

	default:
		result.Error = fmt.Errorf("unable to determine target type for %q: expected URL, domain or IP address", target)
		return result
	}

	if isPrivateHost(result.Host) {
		if !opts.AllowPrivate {
			result.Error = ErrPrivateTarget
			return result
		}
		result.Warnings = append(result.Warnings, "Target is on a private or local network")
	}

	result.Valid = true
	return result
}

// Err returns nil for a valid target and the rejection reason otherwise.
func (r *TargetValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return r.Error
}

func isLocalName(host string) bool {
	return strings.EqualFold(host, "localhost")
}

// isPrivateHost reports loopback, private and link-local addresses and internal names.
func isPrivateHost(host string) bool {
	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	if lower == "localhost" {
		return true
	}

	for _, tld := range []string{".local", ".internal", ".lan", ".localhost", ".home.arpa"} {
		if strings.HasSuffix(lower, tld) {
			return true
		}
	}

	ip := net.ParseIP(lower)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

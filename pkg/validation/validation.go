package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ClientIDRegex matches ids chosen by clients: letters, digits, '.', '_' and '-'.
	ClientIDRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

	// AudioIDRegex matches "track:<n>" and "take:<n>".
	AudioIDRegex = regexp.MustCompile(`^(track|take):[0-9]+$`)
)

func ValidateClientID(id string) error {
	if id == "" {
		return fmt.Errorf("client_id is required")
	}
	if len(id) > 64 {
		return fmt.Errorf("client_id is too long (max 64 characters)")
	}
	if !ClientIDRegex.MatchString(id) {
		return fmt.Errorf("client_id contains invalid characters (only letters, numbers, '.', '_', '-' allowed)")
	}
	return nil
}

// ValidateUsername checks a display name: any printable text up to 50
// characters.
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if !utf8.ValidString(username) {
		return fmt.Errorf("username is not valid UTF-8")
	}
	if utf8.RuneCountInString(username) > 50 {
		return fmt.Errorf("username is too long (max 50 characters)")
	}
	for _, r := range username {
		if !unicode.IsPrint(r) {
			return fmt.Errorf("username contains non-printable characters")
		}
	}
	return nil
}

func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password is required")
	}
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}
	if len(password) > 128 {
		return fmt.Errorf("password is too long (max 128 characters)")
	}
	return nil
}

func ValidateTrackName(name string) error {
	if err := ValidateNonEmptyString(name, "track name"); err != nil {
		return err
	}
	return ValidateStringLength(strings.TrimSpace(name), 1, 100, "track name")
}

func ValidateAudioID(id string) error {
	if !AudioIDRegex.MatchString(id) {
		return fmt.Errorf("invalid audio id %q (want track:<n> or take:<n>)", id)
	}
	return nil
}

func ValidateUDPPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("udp port %d out of range", port)
	}
	return nil
}

// ValidateURL accepts absolute http(s) URLs, used for download links.
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme (must be http or https)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}

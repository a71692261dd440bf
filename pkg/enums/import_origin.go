package enums

import "fmt"

// ImportOrigin identifies where a session's media comes from.
type ImportOrigin string

const (
	ImportOriginRemote ImportOrigin = "remote"
	ImportOriginLocal  ImportOrigin = "local"
)

var validImportOrigins = []ImportOrigin{
	ImportOriginRemote,
	ImportOriginLocal,
}

// String returns the literal string for the origin.
func (o ImportOrigin) String() string {
	return string(o)
}

// IsValid reports whether the origin is known.
func (o ImportOrigin) IsValid() bool {
	for _, candidate := range validImportOrigins {
		if candidate == o {
			return true
		}
	}
	return false
}

// ParseImportOrigin converts raw input into an ImportOrigin.
func ParseImportOrigin(value string) (ImportOrigin, error) {
	for _, candidate := range validImportOrigins {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid import origin %q", value)
}

package prefs

import (
	"fmt"
	"strings"
)

// Path joins segments into a slash-delimited document path.
func Path(segments ...string) string {
	if len(segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(segments, "/")
}

func splitPath(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("path %q is not absolute: %w", path, ErrInvalidArgument)
	}
	trimmed := strings.TrimSuffix(path[1:], "/")
	if trimmed == "" {
		return nil, nil
	}
	segments := strings.Split(trimmed, "/")
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("path %q has an empty segment: %w", path, ErrInvalidArgument)
		}
	}
	return segments, nil
}

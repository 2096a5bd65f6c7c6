package cachestore

import (
	"fmt"
	"strings"
)

// Namespace partitions the cache by stage output type.
type Namespace string

const (
	NamespaceMedia      Namespace = "media"
	NamespaceTranscript Namespace = "transcript"
)

// Namespaces lists every namespace the store manages.
var Namespaces = []Namespace{NamespaceMedia, NamespaceTranscript}

// ParseNamespace maps a user-supplied name to a Namespace.
func ParseNamespace(value string) (Namespace, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, ns := range Namespaces {
		if string(ns) == value {
			return ns, nil
		}
	}
	return "", fmt.Errorf("unknown cache namespace %q", value)
}

const paramSeparator = "__"

// Key addresses one cache record.
type Key struct {
	Namespace Namespace
	ID        string
	Param     string
}

// MediaKey addresses the fetched media record for a source.
func MediaKey(id string) Key {
	return Key{Namespace: NamespaceMedia, ID: id}
}

// TranscriptKey addresses the transcript record for a source and model key.
func TranscriptKey(id, modelKey string) Key {
	return Key{Namespace: NamespaceTranscript, ID: id, Param: modelKey}
}

// base returns the file name stem for the record.
func (k Key) base() string {
	if k.Param == "" {
		return k.ID
	}
	return k.ID + paramSeparator + k.Param
}

func (k Key) String() string {
	return string(k.Namespace) + "/" + k.base()
}

// Validate rejects keys that would escape the namespace directory.
func (k Key) Validate() error {
	if k.Namespace == "" {
		return fmt.Errorf("cache key %q: namespace required", k.String())
	}
	if strings.TrimSpace(k.ID) == "" {
		return fmt.Errorf("cache key %q: identifier required", k.String())
	}
	for _, part := range []string{string(k.Namespace), k.ID, k.Param} {
		if strings.ContainsAny(part, `/\`) || part == "." || part == ".." || strings.HasPrefix(part, ".") {
			return fmt.Errorf("cache key %q: unsafe component %q", k.String(), part)
		}
	}
	return nil
}

// parseBase reverses base for records found on disk. Media records carry no
// parameter; transcript records always do, split at the last separator since
// sanitized identifiers may themselves contain underscores.
func parseBase(ns Namespace, base string) Key {
	key := Key{Namespace: ns, ID: base}
	if ns == NamespaceMedia {
		return key
	}
	if idx := strings.LastIndex(base, paramSeparator); idx > 0 {
		key.ID = base[:idx]
		key.Param = base[idx+len(paramSeparator):]
	}
	return key
}

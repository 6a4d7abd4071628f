package negotiation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dunglas/httpsfv"
)

// ParseClientHeader reads the Storefront-Client header.
// Format: name="wholesale-web", version="1.4.0" (RFC 8941 Dictionary).
//
// Examples:
//   - version="1.4.0"                        → {"" 1.4.0}
//   - name="wholesale-web", version="v2.0.1" → {wholesale-web 2.0.1}
//   - version="1.4.0";build=77              → {"" 1.4.0} (params ignored)
//
// Returns error if header is empty, malformed, or missing the version key.
func ParseClientHeader(header string) (ClientInfo, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return ClientInfo{}, errors.New("empty Storefront-Client header")
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{header})
	if err != nil {
		return ClientInfo{}, fmt.Errorf("invalid Storefront-Client header: %w", err)
	}

	version, err := stringMember(dict, "version")
	if err != nil {
		return ClientInfo{}, err
	}
	version = strings.TrimPrefix(version, "v")
	if version == "" {
		return ClientInfo{}, errors.New("version value must not be empty")
	}

	info := ClientInfo{Version: version}
	if _, ok := dict.Get("name"); ok {
		name, err := stringMember(dict, "name")
		if err != nil {
			return ClientInfo{}, err
		}
		info.Name = name
	}
	return info, nil
}

func stringMember(dict *httpsfv.Dictionary, key string) (string, error) {
	member, ok := dict.Get(key)
	if !ok {
		return "", fmt.Errorf("%s key not found in Storefront-Client header", key)
	}
	item, ok := member.(httpsfv.Item)
	if !ok {
		return "", fmt.Errorf("%s value must be an item", key)
	}
	s, ok := item.Value.(string)
	if !ok {
		return "", fmt.Errorf("%s value must be a string", key)
	}
	return strings.TrimSpace(s), nil
}

// ParseIdempotencyKey reads an Idempotency-Key header, an RFC 8941 sf-string
// such as "8e03978e-40d5-43e8-bc93-6894a57f9324". An absent header yields "".
func ParseIdempotencyKey(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", nil
	}

	item, err := httpsfv.UnmarshalItem([]string{header})
	if err != nil {
		return "", fmt.Errorf("invalid Idempotency-Key header: %w", err)
	}
	key, ok := item.Value.(string)
	if !ok {
		return "", errors.New("Idempotency-Key must be a string")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("Idempotency-Key must not be empty")
	}
	if len(key) > 255 {
		return "", errors.New("Idempotency-Key is longer than 255 characters")
	}
	return key, nil
}

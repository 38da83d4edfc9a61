// Package validation checks identifiers shared by the client and the server.
package validation

import (
	"fmt"
	"regexp"
)

// CollectionPattern определяет допустимый формат имени коллекции
// Латинские буквы, цифры, "_" и "-", первая буква не цифра
var CollectionPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

// EntityIDPattern определяет допустимые символы идентификатора сущности
// Покрывает UUID и большинство серверных ключей
var EntityIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

const (
	// MaxCollectionLen максимальная длина имени коллекции
	MaxCollectionLen = 64
	// MaxEntityIDLen максимальная длина идентификатора сущности
	MaxEntityIDLen = 128
)

// ValidateCollection проверяет имя коллекции
func ValidateCollection(name string) error {
	if name == "" {
		return fmt.Errorf("collection cannot be empty")
	}

	if len(name) > MaxCollectionLen {
		return fmt.Errorf("collection must not exceed %d characters", MaxCollectionLen)
	}

	if !CollectionPattern.MatchString(name) {
		return fmt.Errorf("collection %q can only contain letters, numbers, underscores and dashes, and must not start with a number", name)
	}

	return nil
}

// ValidateEntityID проверяет идентификатор сущности
func ValidateEntityID(id string) error {
	if id == "" {
		return fmt.Errorf("entity id cannot be empty")
	}

	if len(id) > MaxEntityIDLen {
		return fmt.Errorf("entity id must not exceed %d characters", MaxEntityIDLen)
	}

	if !EntityIDPattern.MatchString(id) {
		return fmt.Errorf("entity id %q contains unsupported characters", id)
	}

	return nil
}

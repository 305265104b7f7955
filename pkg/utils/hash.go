package utils

import (
	"crypto/md5"
	"fmt"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// HashPrefix hashes the first n runes of input.
func HashPrefix(input string, n int) string {
	runes := []rune(input)
	if len(runes) > n {
		runes = runes[:n]
	}
	return HashString(string(runes))
}

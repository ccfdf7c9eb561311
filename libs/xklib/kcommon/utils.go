package kcommon

import (
	"os"
	"strconv"
)

// getEnv: unset or unparsable values give defaultValue.
func getEnv[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	val, err := parse(raw)
	if err != nil {
		return defaultValue
	}
	return val
}

func GetEnvInt(key string, defaultValue int) int {
	return getEnv(key, defaultValue, strconv.Atoi)
}

func GetEnvString(key string, defaultValue string) string {
	return getEnv(key, defaultValue, func(s string) (string, error) { return s, nil })
}

package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"

	"docchat-backend/internal/shared/telemetry"
)

// loadEnvFiles loads KEY=VALUE pairs from the given files if they exist.
// Variables already present in the environment win over file values.
func loadEnvFiles(paths ...string) {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			telemetry.Warn("config.dotenv.failed", map[string]any{"path": path, "error": err.Error()})
		}
	}
}

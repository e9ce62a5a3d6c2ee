package config

import (
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

const appDir = "trainconf"

// Dirs holds the directories trainconf reads settings from and writes
// exports to. Each one can be pinned from the environment.
type Dirs struct {
	Config string `env:"TRAINCONF_CONFIG_DIR"`
	Cache  string `env:"TRAINCONF_CACHE_DIR"`
	Export string `env:"TRAINCONF_EXPORT_DIR"`
}

// ResolveDirs fills unset directories from the platform defaults:
// os.UserConfigDir and os.UserCacheDir joined with "trainconf", and
// "exports" under the cache directory. Without a home directory the
// defaults fall back to ./.trainconf.
func ResolveDirs() (Dirs, error) {
	var d Dirs
	if err := env.Parse(&d); err != nil {
		return Dirs{}, err
	}

	if d.Config == "" {
		d.Config = userDir(os.UserConfigDir)
	}
	if d.Cache == "" {
		d.Cache = userDir(os.UserCacheDir)
	}
	if d.Export == "" {
		d.Export = filepath.Join(d.Cache, "exports")
	}
	return d, nil
}

func userDir(base func() (string, error)) string {
	dir, err := base()
	if err != nil || dir == "" {
		if DebugLog != nil {
			DebugLog("no user directory available (%v), using ./.%s", err, appDir)
		}
		return "." + appDir
	}
	return filepath.Join(dir, appDir)
}

func dirs() Dirs {
	d, _ := ResolveDirs()
	return d
}

func GetConfigDir() string {
	return dirs().Config
}

func GetCacheDir() string {
	return dirs().Cache
}

func GetDefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

func GetExportDir() string {
	return dirs().Export
}

// Package config resolves sortdate settings from flags, environment variables
// and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/acm19/sortdate/internal/pics"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix              = "SORTDATE"
	configFileName         = "sortdate"
	homeConfigFileName     = ".sortdate"
	configFileType         = "yaml"
	conflictingFlagsFormat = "--%s and --%s are mutually exclusive"
)

// Keys shared by flags, environment variables and the config file.
const (
	KeySourceDir      = "source-dir"
	KeyDestDir        = "dest-dir"
	KeyMove           = "move"
	KeyCopy           = "copy"
	KeyGeo            = "geo"
	KeyVerbose        = "verbose"
	KeyQuiet          = "quiet"
	KeyReader         = "reader"
	KeySeparator      = "separator"
	KeyTrimEmptyPlace = "trim-empty-place"
	KeyJournal        = "journal"
	KeyProgress       = "progress"
	KeyGeoEndpoint    = "geo-endpoint"
	KeyGeoLanguage    = "geo-language"
	KeyGeoUserAgent   = "geo-user-agent"
	KeyGeoTimeout     = "geo-timeout"
	KeyGeoRate        = "geo-rate"
	KeyGeoFields      = "geo-fields"
)

// Reader names accepted by KeyReader.
const (
	ReaderExiftool = "exiftool"
	ReaderGoexif   = "goexif"
)

// Settings is the resolved configuration of a sort run.
type Settings struct {
	SourceDir      string
	DestDir        string
	Action         pics.Action
	Geo            bool
	Verbose        bool
	Reader         string
	Separator      string
	TrimEmptyPlace bool
	Journal        string
	Progress       bool
	Nominatim      pics.NominatimOptions
	// ConfigFile is the file the settings were read from, empty if none.
	ConfigFile string
}

// SortOptions converts the settings into pipeline options.
func (s Settings) SortOptions() pics.SortOptions {
	opts := pics.DefaultSortOptions()
	opts.DestRoot = s.DestDir
	opts.Separator = s.Separator
	opts.TrimEmptyPlace = s.TrimEmptyPlace
	opts.UseGeo = s.Geo
	opts.Action = s.Action
	return opts
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	geo := pics.DefaultNominatimOptions()
	v.SetDefault(KeySourceDir, ".")
	v.SetDefault(KeyDestDir, ".")
	v.SetDefault(KeyMove, true)
	v.SetDefault(KeyCopy, false)
	v.SetDefault(KeyGeo, false)
	v.SetDefault(KeyVerbose, true)
	v.SetDefault(KeyQuiet, false)
	v.SetDefault(KeyReader, ReaderExiftool)
	v.SetDefault(KeySeparator, "_")
	v.SetDefault(KeyTrimEmptyPlace, false)
	v.SetDefault(KeyJournal, "")
	v.SetDefault(KeyProgress, false)
	v.SetDefault(KeyGeoEndpoint, geo.Endpoint)
	v.SetDefault(KeyGeoLanguage, geo.Language)
	v.SetDefault(KeyGeoUserAgent, geo.UserAgent)
	v.SetDefault(KeyGeoTimeout, geo.Timeout)
	v.SetDefault(KeyGeoRate, geo.MinInterval)
	v.SetDefault(KeyGeoFields, geo.AddressFields)
}

// Load resolves settings with the precedence flags > environment > config file > defaults.
//
// explicitPath names a config file that must exist. Without it, ./sortdate.yaml and
// then $HOME/.sortdate.yaml are tried and silently skipped when absent.
func Load(flags *pflag.FlagSet, explicitPath string) (Settings, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Settings{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	configFile, err := readConfigFile(v, explicitPath)
	if err != nil {
		return Settings{}, err
	}

	return fromViper(v, flags, configFile)
}

func readConfigFile(v *viper.Viper, explicitPath string) (string, error) {
	v.SetConfigType(configFileType)
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("read configuration %s: %w", explicitPath, err)
		}
		return v.ConfigFileUsed(), nil
	}

	v.SetConfigName(configFileName)
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err == nil {
		return v.ConfigFileUsed(), nil
	} else if !isNotFound(err) {
		return "", fmt.Errorf("read configuration: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", nil
	}
	homeConfig := filepath.Join(home, homeConfigFileName+"."+configFileType)
	if _, err := os.Stat(homeConfig); err != nil {
		return "", nil
	}
	v.SetConfigFile(homeConfig)
	if err := v.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read configuration %s: %w", homeConfig, err)
	}
	return v.ConfigFileUsed(), nil
}

func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound)
}

func fromViper(v *viper.Viper, flags *pflag.FlagSet, configFile string) (Settings, error) {
	action := pics.ActionMove
	if v.GetBool(KeyCopy) {
		if changed(flags, KeyMove) && v.GetBool(KeyMove) {
			return Settings{}, fmt.Errorf(conflictingFlagsFormat, KeyMove, KeyCopy)
		}
		action = pics.ActionCopy
	}

	verbose := v.GetBool(KeyVerbose)
	if v.GetBool(KeyQuiet) {
		if changed(flags, KeyVerbose) && verbose {
			return Settings{}, fmt.Errorf(conflictingFlagsFormat, KeyVerbose, KeyQuiet)
		}
		verbose = false
	}

	reader := strings.ToLower(v.GetString(KeyReader))
	if reader != ReaderExiftool && reader != ReaderGoexif {
		return Settings{}, fmt.Errorf("unknown reader %q (expected %s or %s)", reader, ReaderExiftool, ReaderGoexif)
	}

	separator := v.GetString(KeySeparator)
	if strings.ContainsAny(separator, `/\`) {
		return Settings{}, fmt.Errorf("separator %q must not contain a path separator", separator)
	}

	return Settings{
		SourceDir:      v.GetString(KeySourceDir),
		DestDir:        v.GetString(KeyDestDir),
		Action:         action,
		Geo:            v.GetBool(KeyGeo),
		Verbose:        verbose,
		Reader:         reader,
		Separator:      separator,
		TrimEmptyPlace: v.GetBool(KeyTrimEmptyPlace),
		Journal:        v.GetString(KeyJournal),
		Progress:       v.GetBool(KeyProgress),
		Nominatim: pics.NominatimOptions{
			Endpoint:      v.GetString(KeyGeoEndpoint),
			Language:      v.GetString(KeyGeoLanguage),
			UserAgent:     v.GetString(KeyGeoUserAgent),
			Timeout:       durationOrDefault(v.GetDuration(KeyGeoTimeout), pics.DefaultNominatimOptions().Timeout),
			MinInterval:   durationOrDefault(v.GetDuration(KeyGeoRate), time.Second),
			AddressFields: v.GetStringSlice(KeyGeoFields),
		},
		ConfigFile: configFile,
	}, nil
}

func changed(flags *pflag.FlagSet, name string) bool {
	if flags == nil {
		return false
	}
	f := flags.Lookup(name)
	return f != nil && f.Changed
}

// durationOrDefault returns def when d is not positive.
func durationOrDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

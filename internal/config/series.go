package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Series describes one time series kept in a catalog datastore resource.
type Series struct {
	Name             string   `mapstructure:"name"`
	DatasetID        string   `mapstructure:"dataset_id"`
	ResourceName     string   `mapstructure:"resource_name"`
	CSV              string   `mapstructure:"csv"`
	KeyColumns       []string `mapstructure:"key_columns"`
	TimestampColumns []string `mapstructure:"timestamp_columns"`
	Description      string   `mapstructure:"description"`
}

type SeriesConfig struct {
	Series []Series `mapstructure:"series"`
}

// Lookup returns the series with the given name, or the first series when
// name is empty.
func (c SeriesConfig) Lookup(name string) (Series, bool) {
	name = strings.TrimSpace(name)
	for _, s := range c.Series {
		if name == "" || s.Name == name {
			return s, true
		}
	}
	return Series{}, false
}

func DefaultSeriesConfig() SeriesConfig {
	return SeriesConfig{
		Series: []Series{
			{
				Name:             "extensions",
				DatasetID:        "ckan-extensions-metadata",
				ResourceName:     "CKAN Extensions Dynamic Metadata",
				CSV:              "dynamic_metadata_update.csv",
				KeyColumns:       []string{"repository_name", "tstamp"},
				TimestampColumns: []string{"tstamp", "release_date"},
				Description:      "Dynamic metadata for CKAN extensions - time series data.",
			},
		},
	}
}

// SeriesHolder keeps the current series configuration and swaps it in place
// when the backing file changes.
type SeriesHolder struct {
	v       *viper.Viper
	current atomic.Value // holds SeriesConfig
}

// NewSeriesHolder reads series definitions from path, or from series.yml in
// the standard locations when path is empty. A missing default file falls
// back to DefaultSeriesConfig; a missing explicit path is an error.
func NewSeriesHolder(path string) (*SeriesHolder, error) {
	v := viper.New()

	if strings.TrimSpace(path) != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("series")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/catalogsync")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CATALOGSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read series config: %w", err)
		}
		v.SetDefault("series", DefaultSeriesConfig().Series)
	}

	cfg, err := decodeSeries(v)
	if err != nil {
		return nil, err
	}

	holder := &SeriesHolder{v: v}
	holder.current.Store(cfg)
	return holder, nil
}

// Watch reloads the configuration whenever the file changes. Invalid
// revisions are logged and ignored.
func (h *SeriesHolder) Watch(log *zap.Logger) {
	if h == nil || h.v.ConfigFileUsed() == "" {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("series.config")

	h.v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeSeries(h.v)
		if err != nil {
			log.Warn("series config reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		h.current.Store(updated)
		log.Info("series config reloaded", zap.String("file", e.Name), zap.Int("series", len(updated.Series)))
	})
	h.v.WatchConfig()
}

func (h *SeriesHolder) Get() SeriesConfig {
	return h.current.Load().(SeriesConfig)
}

func decodeSeries(v *viper.Viper) (SeriesConfig, error) {
	var cfg SeriesConfig
	if err := v.UnmarshalKey("series", &cfg.Series); err != nil {
		return SeriesConfig{}, fmt.Errorf("decode series config: %w", err)
	}
	if err := validateSeriesConfig(cfg); err != nil {
		return SeriesConfig{}, err
	}
	return cfg, nil
}

func validateSeriesConfig(cfg SeriesConfig) error {
	if len(cfg.Series) == 0 {
		return errors.New("series cannot be empty")
	}
	seen := make(map[string]struct{}, len(cfg.Series))
	for i, s := range cfg.Series {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("series[%d].name is required", i)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("series %q is defined twice", s.Name)
		}
		seen[s.Name] = struct{}{}
		if strings.TrimSpace(s.DatasetID) == "" {
			return fmt.Errorf("series %q: dataset_id is required", s.Name)
		}
		if strings.TrimSpace(s.ResourceName) == "" {
			return fmt.Errorf("series %q: resource_name is required", s.Name)
		}
		if len(s.KeyColumns) == 0 {
			return fmt.Errorf("series %q: key_columns cannot be empty", s.Name)
		}
	}
	return nil
}

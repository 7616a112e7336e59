package config

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// Audience storage drivers
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Settings holds every tunable the binaries read from the environment
type Settings struct {
	DataDir     string
	Regions     []string
	PermitsFile string
	BatchSize   int
	Workers     int

	AudienceDriver string
	AudienceDir    string
	SQLitePath     string

	WebHost string
	WebPort int

	LogLevel  string
	LogFormat string
	Debug     bool
}

// DefaultWorkers reserves one CPU for the coordinating goroutine
func DefaultWorkers() int {
	if n := runtime.NumCPU() - 1; n > 0 {
		return n
	}
	return 1
}

// Load reads the .env file (if any) and builds Settings from the environment
func Load() (*Settings, error) {
	LoadEnv()

	s := &Settings{
		DataDir:     GetEnv("PROPMATCH_DATA_DIR", "."),
		Regions:     GetEnvList("PROPMATCH_REGIONS", []string{"MD", "VA"}),
		PermitsFile: GetEnv("PROPMATCH_PERMITS_FILE", "permits.csv"),
		BatchSize:   GetEnvInt("PROPMATCH_BATCH_SIZE", 1000),
		Workers:     GetEnvInt("PROPMATCH_WORKERS", DefaultWorkers()),

		AudienceDriver: strings.ToLower(GetEnv("PROPMATCH_AUDIENCE_DRIVER", DriverFile)),
		AudienceDir:    GetEnv("PROPMATCH_AUDIENCE_DIR", "audiences"),
		SQLitePath:     GetEnv("PROPMATCH_SQLITE_PATH", "audiences.db"),

		WebHost: GetEnv("WEB_HOST", "localhost"),
		WebPort: GetEnvInt("WEB_PORT", 8080),

		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "console"),
		Debug:     GetEnvBool("DEBUG", false),
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks settings that would otherwise fail deep inside a run
func (s *Settings) Validate() error {
	if s.BatchSize <= 0 {
		return fmt.Errorf("PROPMATCH_BATCH_SIZE must be positive, got %d", s.BatchSize)
	}
	if s.Workers <= 0 {
		return fmt.Errorf("PROPMATCH_WORKERS must be positive, got %d", s.Workers)
	}
	if len(s.Regions) == 0 {
		return fmt.Errorf("PROPMATCH_REGIONS must name at least one region")
	}
	switch s.AudienceDriver {
	case DriverFile, DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown PROPMATCH_AUDIENCE_DRIVER %q", s.AudienceDriver)
	}
	return nil
}

// RegionPropertyFile is the merged vendor property export for a region
func (s *Settings) RegionPropertyFile(region string) string {
	return filepath.Join(s.DataDir, region, region+"_merged.json")
}

// RegionMatchFile is where the match driver writes a region's match pairs
func (s *Settings) RegionMatchFile(region string) string {
	return filepath.Join(s.DataDir, region, region+"_matches.json")
}

// MatchFiles maps every configured region to its match file
func (s *Settings) MatchFiles() map[string]string {
	files := make(map[string]string, len(s.Regions))
	for _, region := range s.Regions {
		files[region] = s.RegionMatchFile(region)
	}
	return files
}

// PermitsPath resolves the permit source relative to the data directory
func (s *Settings) PermitsPath() string {
	if filepath.IsAbs(s.PermitsFile) {
		return s.PermitsFile
	}
	return filepath.Join(s.DataDir, s.PermitsFile)
}

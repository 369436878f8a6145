// Package ops resolves process configuration from a JSON file layered
// with command-line flags (spec §6), and defines the process's exit
// codes.
package ops

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/yanun0323/errors"
)

// Exit codes (spec §6): 1 on a configuration error or a missing
// database URL, 0 on a clean administrative stop.
const (
	ExitOK   = 0
	ExitFail = 1
)

// FileConfig mirrors the on-disk JSON layout. Every field except
// algo_shards, pnl_dir and session_file also has a corresponding flag
// (--algo_threads also sets the shard count, ahead of algo_shards). A
// flag set to a non-empty, positive or true value wins over the file.
type FileConfig struct {
	DBURL         string `json:"db_url"`
	DBCreateTables bool  `json:"db_create_tables"`
	DBPoolSize    int    `json:"db_pool_size"`
	Port          int    `json:"port"`
	IOThreads     int    `json:"io_threads"`
	AlgoThreads   int    `json:"algo_threads"`
	AlgoShards    int    `json:"algo_shards"`
	DisableRMS    bool   `json:"disable_rms"`
	PnLDir        string `json:"pnl_dir"`
	SessionFile   string `json:"session_file"`
	LogConfigFile string `json:"log_config_file"`
	PyroscopeAddr string `json:"pyroscope_addr"`
}

// Config is the resolved, validated configuration the rest of the
// process is built from.
type Config struct {
	DBURL          string
	DBCreateTables bool
	DBPoolSize     int
	Port           int
	IOThreads      int
	AlgoThreads    int
	AlgoShards     int
	DisableRMS     bool
	PnLDir         string
	SessionFile    string
	LogConfigFile  string
	PyroscopeAddr  string
}

// Flags holds the parsed command-line flag set (spec §6).
type Flags struct {
	ConfigFile    string
	LogConfigFile string
	DBURL         string
	DBCreateTables bool
	DBPoolSize    int
	Port          int
	IOThreads     int
	AlgoThreads   int
	DisableRMS    bool
	PyroscopeAddr string
}

// ParseFlags defines and parses the process's flag set against args
// (excluding the program name).
func ParseFlags(args []string) (Flags, error) {
	fs := flag.NewFlagSet("tradecore", flag.ContinueOnError)
	var f Flags
	fs.StringVar(&f.ConfigFile, "config_file", "", "path to the JSON configuration file")
	fs.StringVar(&f.LogConfigFile, "log_config_file", "", "path to the log configuration file")
	fs.StringVar(&f.DBURL, "db_url", "", "reference/position database connection string")
	fs.BoolVar(&f.DBCreateTables, "db_create_tables", false, "create tables on startup if missing")
	fs.IntVar(&f.DBPoolSize, "db_pool_size", 0, "database connection pool size")
	fs.IntVar(&f.Port, "port", 0, "client port listen port")
	fs.IntVar(&f.IOThreads, "io_threads", 0, "market-data/execution I/O worker count (parsed into Config.IOThreads; no component reads it)")
	fs.IntVar(&f.AlgoThreads, "algo_threads", 0, "algo runtime shard count")
	fs.BoolVar(&f.DisableRMS, "disable_rms", false, "bypass the risk engine (non-production only)")
	fs.StringVar(&f.PyroscopeAddr, "pyroscope_addr", "", "pyroscope server address; empty disables continuous profiling")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// Load reads the JSON config file named by flags.ConfigFile (if any),
// layers explicitly-set flags on top, and validates the result. A
// missing database URL or an unreadable/malformed config file is a
// fatal configuration error (spec §7).
func Load(flags Flags) (Config, error) {
	var file FileConfig
	if flags.ConfigFile != "" {
		data, err := os.ReadFile(flags.ConfigFile)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config file")
		}
		if err := json.Unmarshal(data, &file); err != nil {
			return Config{}, errors.Wrap(err, "parse config file")
		}
	}

	cfg := Config{
		DBURL:          firstNonEmpty(flags.DBURL, file.DBURL),
		DBCreateTables: flags.DBCreateTables || file.DBCreateTables,
		DBPoolSize:     firstPositive(flags.DBPoolSize, file.DBPoolSize, 10),
		Port:           firstPositive(flags.Port, file.Port, 8080),
		IOThreads:      firstPositive(flags.IOThreads, file.IOThreads, 2),
		AlgoThreads:    firstPositive(flags.AlgoThreads, file.AlgoThreads, 4),
		AlgoShards:     firstPositive(flags.AlgoThreads, file.AlgoShards, 4),
		DisableRMS:     flags.DisableRMS || file.DisableRMS,
		PnLDir:         firstNonEmpty(file.PnLDir, "./pnl"),
		SessionFile:    firstNonEmpty(file.SessionFile, "./session.json"),
		LogConfigFile:  firstNonEmpty(flags.LogConfigFile, file.LogConfigFile),
		PyroscopeAddr:  firstNonEmpty(flags.PyroscopeAddr, file.PyroscopeAddr),
	}

	if cfg.DBURL == "" {
		return Config{}, fmt.Errorf("configuration error: db_url is required")
	}
	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}

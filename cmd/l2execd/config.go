package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
	"github.com/naoina/toml"
	"github.com/urfave/cli/v2"
)

var configFileFlag = &cli.StringFlag{
	Name:  "config",
	Usage: "TOML configuration file; flags override whatever it sets",
}

var (
	dataDirFlag = &cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the chain database",
		Value: "./l2execd-data",
	}
	cacheBytesFlag = &cli.IntFlag{
		Name:  "cache.bytes",
		Usage: "Flat-kv generator read-ahead cache size in bytes",
		Value: 64 << 20,
	}
	layerThresholdFlag = &cli.IntFlag{
		Name:  "layer.threshold",
		Usage: "In-memory diff layer count above which the background trie worker starts persisting the bottom layer",
		Value: 128,
	}
	dispatchBufferFlag = &cli.IntFlag{
		Name:  "dispatch.buffer",
		Usage: "Per-shard queue capacity for the merkleization dispatcher/bin-packer",
		Value: 256,
	}
	checkpointDirFlag = &cli.StringFlag{
		Name:  "checkpoint.dir",
		Usage: "Directory the checkpoint manager keeps its per-batch clones in",
		Value: "./l2execd-data/checkpoints",
	}

	proposerAddressFlag = &cli.StringFlag{
		Name:  "committer.proposer",
		Usage: "On-chain proposer contract address commitBatch is sent to",
	}
	timelockAddressFlag = &cli.StringFlag{
		Name:  "committer.timelock",
		Usage: "Timelock contract address, overriding committer.proposer as the send target when set",
	}
	messengerAddressFlag = &cli.StringFlag{
		Name:  "committer.messenger",
		Usage: "L1 messenger contract address whose logs mark outgoing L2-to-L1 messages",
	}
	validiumFlag = &cli.BoolFlag{
		Name:  "committer.validium",
		Usage: "Run as a validium (no blob, EIP-1559 commit tx) instead of a rollup",
	}
	basedFlag = &cli.BoolFlag{
		Name:  "committer.based",
		Usage: "Run the based-sequencing variant of the commit function signature",
	}
	wakeupMSFlag = &cli.Uint64Flag{
		Name:  "committer.wakeup-ms",
		Usage: "Idle interval between commit-readiness checks",
		Value: 60_000,
	}
	commitTimeMSFlag = &cli.Uint64Flag{
		Name:  "committer.commit-time-ms",
		Usage: "Batch commit time target in milliseconds; stored in the committer config, but neither the tick loop nor Produce reads it",
		Value: 2 * 60 * 60 * 1000,
	}
	batchGasLimitFlag = &cli.Uint64Flag{
		Name:  "committer.batch-gas-limit",
		Usage: "Maximum cumulative gas a batch may include before it is sealed",
		Value: 30_000_000,
	}

	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Log verbosity: 0=crit 1=error 2=warn 3=info 4=debug 5=trace",
		Value: 3,
	}
	logJSONFlag = &cli.BoolFlag{
		Name:  "log.json",
		Usage: "Format log output as JSON instead of the human-readable terminal format",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "Write logs to this file (rotated via lumberjack) instead of stderr",
	}
)

var appFlags = []cli.Flag{
	configFileFlag,
	dataDirFlag,
	cacheBytesFlag,
	layerThresholdFlag,
	dispatchBufferFlag,
	checkpointDirFlag,
	proposerAddressFlag,
	timelockAddressFlag,
	messengerAddressFlag,
	validiumFlag,
	basedFlag,
	wakeupMSFlag,
	commitTimeMSFlag,
	batchGasLimitFlag,
	verbosityFlag,
	logJSONFlag,
	logFileFlag,
}

// CommitterConfig mirrors l2/committer.Config field for field (except
// GitCommitHash, which the wiring fills in from the build), but with
// plain strings for addresses so it round-trips through TOML without a
// custom (Un)MarshalTOML implementation; resolveCommitter converts it.
type CommitterConfig struct {
	ProposerAddress   string
	TimelockAddress   string `toml:",omitempty"`
	MessengerAddress  string
	Validium          bool
	Based             bool
	CommitterWakeUpMS uint64
	CommitTimeMS      uint64
	BatchGasLimit     uint64
}

type LogConfig struct {
	Verbosity int
	JSON      bool
	File      string `toml:",omitempty"`
}

// Config is the binary's full configuration: everything defaultConfig
// seeds, a TOML file may override, and flags override again on top of
// that, in the same three-layer precedence cmd/mive/config.go used.
type Config struct {
	DataDir        string
	CacheBytes     int
	LayerThreshold int
	DispatchBuffer int
	CheckpointDir  string
	Committer      CommitterConfig
	Log            LogConfig
}

func defaultConfig() Config {
	return Config{
		DataDir:        dataDirFlag.Value,
		CacheBytes:     cacheBytesFlag.Value,
		LayerThreshold: layerThresholdFlag.Value,
		DispatchBuffer: dispatchBufferFlag.Value,
		CheckpointDir:  checkpointDirFlag.Value,
		Committer: CommitterConfig{
			CommitterWakeUpMS: wakeupMSFlag.Value,
			CommitTimeMS:      commitTimeMSFlag.Value,
			BatchGasLimit:     batchGasLimitFlag.Value,
		},
		Log: LogConfig{Verbosity: verbosityFlag.Value},
	}
}

// tomlSettings mirrors cmd/mive/config.go's: TOML keys use the same names
// as the Go struct fields rather than the library's default lower-casing.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://pkg.go.dev/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

func loadConfigFile(file string, cfg *Config) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	var lineErr *toml.LineError
	if errors.As(err, &lineErr) {
		err = fmt.Errorf("%s, %w", file, err)
	}
	return err
}

// applyFlags overlays whatever flags were explicitly set on the command
// line on top of cfg, which already reflects defaults and (optionally) a
// TOML file.
func applyFlags(ctx *cli.Context, cfg *Config) {
	if ctx.IsSet(dataDirFlag.Name) {
		cfg.DataDir = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(cacheBytesFlag.Name) {
		cfg.CacheBytes = ctx.Int(cacheBytesFlag.Name)
	}
	if ctx.IsSet(layerThresholdFlag.Name) {
		cfg.LayerThreshold = ctx.Int(layerThresholdFlag.Name)
	}
	if ctx.IsSet(dispatchBufferFlag.Name) {
		cfg.DispatchBuffer = ctx.Int(dispatchBufferFlag.Name)
	}
	if ctx.IsSet(checkpointDirFlag.Name) {
		cfg.CheckpointDir = ctx.String(checkpointDirFlag.Name)
	}
	if ctx.IsSet(proposerAddressFlag.Name) {
		cfg.Committer.ProposerAddress = ctx.String(proposerAddressFlag.Name)
	}
	if ctx.IsSet(timelockAddressFlag.Name) {
		cfg.Committer.TimelockAddress = ctx.String(timelockAddressFlag.Name)
	}
	if ctx.IsSet(messengerAddressFlag.Name) {
		cfg.Committer.MessengerAddress = ctx.String(messengerAddressFlag.Name)
	}
	if ctx.IsSet(validiumFlag.Name) {
		cfg.Committer.Validium = ctx.Bool(validiumFlag.Name)
	}
	if ctx.IsSet(basedFlag.Name) {
		cfg.Committer.Based = ctx.Bool(basedFlag.Name)
	}
	if ctx.IsSet(wakeupMSFlag.Name) {
		cfg.Committer.CommitterWakeUpMS = ctx.Uint64(wakeupMSFlag.Name)
	}
	if ctx.IsSet(commitTimeMSFlag.Name) {
		cfg.Committer.CommitTimeMS = ctx.Uint64(commitTimeMSFlag.Name)
	}
	if ctx.IsSet(batchGasLimitFlag.Name) {
		cfg.Committer.BatchGasLimit = ctx.Uint64(batchGasLimitFlag.Name)
	}
	if ctx.IsSet(verbosityFlag.Name) {
		cfg.Log.Verbosity = ctx.Int(verbosityFlag.Name)
	}
	if ctx.IsSet(logJSONFlag.Name) {
		cfg.Log.JSON = ctx.Bool(logJSONFlag.Name)
	}
	if ctx.IsSet(logFileFlag.Name) {
		cfg.Log.File = ctx.String(logFileFlag.Name)
	}
}

// loadConfig builds the effective Config for one run: defaults, then an
// optional TOML file, then flags, matching cmd/mive/config.go's
// loadBaseConfig precedence exactly.
func loadConfig(ctx *cli.Context) (Config, error) {
	cfg := defaultConfig()
	if file := ctx.String(configFileFlag.Name); file != "" {
		if err := loadConfigFile(file, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config file: %w", err)
		}
	}
	applyFlags(ctx, &cfg)
	return cfg, nil
}

func parseOptionalAddress(s string) *common.Address {
	if s == "" {
		return nil
	}
	addr := common.HexToAddress(s)
	return &addr
}

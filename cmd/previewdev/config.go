package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/floegence/previewdev/internal/cmdutil"
	"github.com/floegence/previewdev/internal/logging"
	"github.com/floegence/previewdev/listenaddr"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const maxConfigBytes = 1 << 20

type config struct {
	Host string    `yaml:"host"`
	IP   string    `yaml:"ip"`
	Port portValue `yaml:"port"`

	Upstream     string `yaml:"upstream"`
	InspectorURL string `yaml:"inspector_url"`
	Inspect      bool   `yaml:"inspect"`

	BuildCommand string `yaml:"build_command"`
	Script       string `yaml:"script"`
	ScriptID     string `yaml:"script_id"`
	UploadURL    string `yaml:"upload_url"`

	MetricsListen string `yaml:"metrics_listen"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// portValue accepts both `port: 8787` and `port: "8787"`.
type portValue string

func (p *portValue) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: port must be a scalar", n.Line)
	}
	*p = portValue(n.Value)
	return nil
}

func defaultConfig() config {
	return config{Inspect: true, LogLevel: "info", LogFormat: "console"}
}

func (c config) listenInput() listenaddr.Input {
	return listenaddr.Input{Host: c.Host, IP: c.IP, Port: string(c.Port)}
}

func (c config) logConfig() logging.Config {
	return logging.Config{Level: c.LogLevel, Format: c.LogFormat, File: c.LogFile}
}

func (c config) validate() error {
	if strings.TrimSpace(c.Script) == "" && strings.TrimSpace(c.ScriptID) == "" {
		return &cmdutil.UsageError{Msg: "missing --script or --script-id (or env: PREVIEWDEV_SCRIPT, PREVIEWDEV_SCRIPT_ID)"}
	}
	if c.Script != "" && c.ScriptID != "" {
		return &cmdutil.UsageError{Msg: "--script and --script-id are mutually exclusive"}
	}
	return nil
}

// setting binds one config key to its flag and env fallback. Flag names are
// the key with dashes.
type setting struct {
	key     string
	usage   string
	strVal  func(*config) *string
	boolVal func(*config) *bool
}

func (s setting) flagName() string { return strings.ReplaceAll(s.key, "_", "-") }

var settings = []setting{
	{key: "host", usage: "display host, optionally with http:// or https://", strVal: func(c *config) *string { return &c.Host }},
	{key: "ip", usage: "IP address to bind (default " + listenaddr.DefaultIP + ")", strVal: func(c *config) *string { return &c.IP }},
	{key: "port", usage: "port to bind (default 8787)", strVal: func(c *config) *string { return (*string)(&c.Port) }},
	{key: "upstream", usage: "preview host base URL", strVal: func(c *config) *string { return &c.Upstream }},
	{key: "inspector_url", usage: "inspector websocket URL prefix", strVal: func(c *config) *string { return &c.InspectorURL }},
	{key: "inspect", usage: "stream console output from the remote inspector", boolVal: func(c *config) *bool { return &c.Inspect }},
	{key: "build_command", usage: "command that builds the script (empty skips the build)", strVal: func(c *config) *string { return &c.BuildCommand }},
	{key: "script", usage: "built script to upload for preview", strVal: func(c *config) *string { return &c.Script }},
	{key: "script_id", usage: "id of an already uploaded script (skips upload)", strVal: func(c *config) *string { return &c.ScriptID }},
	{key: "upload_url", usage: "script upload endpoint", strVal: func(c *config) *string { return &c.UploadURL }},
	{key: "metrics_listen", usage: "serve Prometheus /metrics on this address (empty disables)", strVal: func(c *config) *string { return &c.MetricsListen }},
	{key: "log_level", usage: "trace|debug|info|warn|error", strVal: func(c *config) *string { return &c.LogLevel }},
	{key: "log_format", usage: "console|json", strVal: func(c *config) *string { return &c.LogFormat }},
	{key: "log_file", usage: "also write JSON logs to this file, rotated", strVal: func(c *config) *string { return &c.LogFile }},
}

// configLoader layers flag > env > file > default.
type configLoader struct {
	fs         *pflag.FlagSet
	flags      config
	configPath string
}

func newConfigLoader(fs *pflag.FlagSet) *configLoader {
	l := &configLoader{fs: fs, flags: defaultConfig()}
	fs.StringVar(&l.configPath, "config", "", "YAML config file (env: PREVIEWDEV_CONFIG)")
	for _, s := range settings {
		usage := fmt.Sprintf("%s (env: %s)", s.usage, cmdutil.EnvKey(s.key))
		if s.boolVal != nil {
			p := s.boolVal(&l.flags)
			fs.BoolVar(p, s.flagName(), *p, usage)
			continue
		}
		p := s.strVal(&l.flags)
		fs.StringVar(p, s.flagName(), *p, usage)
	}
	return l
}

func (l *configLoader) load() (config, error) {
	cfg := defaultConfig()

	path := strings.TrimSpace(l.configPath)
	if !l.fs.Changed("config") {
		if v, ok := cmdutil.EnvString("config"); ok {
			path = v
		}
	}
	if path != "" {
		if err := readConfigFile(path, &cfg); err != nil {
			return config{}, err
		}
	}

	for _, s := range settings {
		if s.boolVal != nil {
			v, ok, err := cmdutil.EnvBool(s.key)
			if err != nil {
				return config{}, &cmdutil.UsageError{Msg: err.Error()}
			}
			if ok {
				*s.boolVal(&cfg) = v
			}
			continue
		}
		if v, ok := cmdutil.EnvString(s.key); ok {
			*s.strVal(&cfg) = v
		}
	}

	for _, s := range settings {
		if !l.fs.Changed(s.flagName()) {
			continue
		}
		if s.boolVal != nil {
			*s.boolVal(&cfg) = *s.boolVal(&l.flags)
			continue
		}
		*s.strVal(&cfg) = strings.TrimSpace(*s.strVal(&l.flags))
	}
	return cfg, nil
}

func readConfigFile(path string, cfg *config) error {
	f, err := os.Open(path)
	if err != nil {
		return &cmdutil.UsageError{Msg: fmt.Sprintf("read config: %v", err)}
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, maxConfigBytes+1))
	if err != nil {
		return &cmdutil.UsageError{Msg: fmt.Sprintf("read config: %v", err)}
	}
	if len(b) > maxConfigBytes {
		return &cmdutil.UsageError{Msg: "config too large"}
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return &cmdutil.UsageError{Msg: fmt.Sprintf("parse config %s: %v", path, err)}
	}
	return nil
}

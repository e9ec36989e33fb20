package cli

import (
	"flag"
	"io"
)

const (
	defaultHelpDesc    = "Show help"
	defaultVersionDesc = "Print version and exit"
)

type HelpVersionFlags struct {
	Help    bool
	Version bool
}

func AddHelpVersionFlags(fs *flag.FlagSet, helpDesc, versionDesc string) *HelpVersionFlags {
	if fs == nil {
		return &HelpVersionFlags{}
	}
	if helpDesc == "" {
		helpDesc = defaultHelpDesc
	}
	if versionDesc == "" {
		versionDesc = defaultVersionDesc
	}
	flags := &HelpVersionFlags{}
	fs.BoolVar(&flags.Help, "help", false, helpDesc)
	fs.BoolVar(&flags.Help, "h", false, helpDesc)
	fs.BoolVar(&flags.Version, "version", false, versionDesc)
	fs.BoolVar(&flags.Version, "v", false, versionDesc)
	return flags
}

// DaemonFlags are the devwatch command line options. Set reports which
// options were given explicitly so they can override the config file.
type DaemonFlags struct {
	ConfigPath  string
	Listen      string
	Mode        string
	ThrottleMS  int64
	LogLevel    string
	PrintSchema bool
	Reports     bool
	Owner       string
	Paths       []string
	Set         map[string]bool
	*HelpVersionFlags
}

func ParseDaemonFlags(name string, args []string, output io.Writer) (*DaemonFlags, *flag.FlagSet, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}
	flags := &DaemonFlags{Set: map[string]bool{}}
	fs.StringVar(&flags.ConfigPath, "config", "devwatch.toml", "Config file (.toml, .yaml or .yml)")
	fs.StringVar(&flags.Listen, "listen", "", "HTTP listen address, overrides config")
	fs.StringVar(&flags.Mode, "mode", "", "Watch mode: filter or all")
	fs.Int64Var(&flags.ThrottleMS, "throttle-ms", 0, "Throttle window in milliseconds")
	fs.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warning or error")
	fs.BoolVar(&flags.PrintSchema, "print-schema", false, "Print the config JSON schema and exit")
	fs.BoolVar(&flags.Reports, "reports", false, "Read module reports from stdin and relay upstream messages to stdout")
	fs.StringVar(&flags.Owner, "owner", "main", "Owner id recorded for stdin reports")
	flags.HelpVersionFlags = AddHelpVersionFlags(fs, "", "")

	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	fs.Visit(func(f *flag.Flag) {
		flags.Set[f.Name] = true
	})
	flags.Paths = fs.Args()
	return flags, fs, nil
}

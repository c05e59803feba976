// package fungecfg loads the funged configuration file.
package fungecfg

import (
	"errors"
	"fmt"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 1312

	BeatsTicker    = "ticker"
	BeatsPortAudio = "portaudio"
)

type Config struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
	// Period is the number of clock ticks per beat.
	Period uint64 `toml:"period"`
	// DB is the path to the journal database. The journal is disabled if it is empty.
	DB      string `toml:"db"`
	BeatsIn string `toml:"beats_in"`

	Clock   ClockConfig              `toml:"clock"`
	Out     map[string]OutConfig     `toml:"out"`
	Channel map[string]ChannelConfig `toml:"channel"`
}

type ClockConfig struct {
	// Rate is ticks per second for the ticker clock.
	Rate float64 `toml:"rate"`
	// SampleRate and FramesPerBuffer configure the portaudio clock, which ticks once per buffer.
	SampleRate      float64 `toml:"sample_rate"`
	FramesPerBuffer int     `toml:"frames_per_buffer"`
}

// OutConfig is a MIDI output, and the range of global channels routed to it.
type OutConfig struct {
	Connect  Connect `toml:"connect"`
	Starting *int    `toml:"starting"`
	// Ending defaults to Starting+15
	Ending *int `toml:"ending"`
}

// ChannelConfig overrides the bank and program of a global channel.
type ChannelConfig struct {
	Bank    *uint8 `toml:"bank"`
	Program *uint8 `toml:"program"`
}

// Connect is a list of port names. In TOML it may be a single string or an array of strings.
type Connect []string

func (c *Connect) UnmarshalTOML(x any) error {
	switch x := x.(type) {
	case string:
		*c = Connect{x}
	case []any:
		var ret Connect
		for _, elem := range x {
			s, ok := elem.(string)
			if !ok {
				return fmt.Errorf("connect must be a string or array of strings, found element %T", elem)
			}
			ret = append(ret, s)
		}
		*c = ret
	default:
		return fmt.Errorf("connect must be a string or array of strings, found %T", x)
	}
	return nil
}

// Route is a validated out section.
type Route struct {
	Name     string
	Connect  []string
	Starting uint8
	Ending   uint8
}

// Covers returns true if the global channel ch is routed to r.
func (r Route) Covers(ch uint8) bool {
	return r.Starting <= ch && ch <= r.Ending
}

func Default() Config {
	return Config{
		Host:    DefaultHost,
		Port:    DefaultPort,
		Period:  1,
		BeatsIn: BeatsTicker,
		Clock: ClockConfig{
			Rate:            8,
			SampleRate:      44100,
			FramesPerBuffer: 2048,
		},
	}
}

// Load reads and validates the config file at p.
func Load(p string) (*Config, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", p, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return cfg, nil
}

// Parse decodes a config from TOML, applies defaults, and validates it.
// Unknown keys are an error.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, err
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		keys := make([]string, len(undec))
		for i, k := range undec {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Period < 1 {
		return errors.New("period must be at least 1")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.BeatsIn {
	case BeatsTicker:
		if c.Clock.Rate <= 0 {
			return errors.New("clock.rate must be positive")
		}
	case BeatsPortAudio:
		if c.Clock.SampleRate <= 0 || c.Clock.FramesPerBuffer <= 0 {
			return errors.New("clock.sample_rate and clock.frames_per_buffer must be positive")
		}
	default:
		return fmt.Errorf("beats_in must be %q or %q, have %q", BeatsTicker, BeatsPortAudio, c.BeatsIn)
	}
	routes, err := c.Routes()
	if err != nil {
		return err
	}
	_, err = c.Channels(routes)
	return err
}

// ListenAddr is the address the HTTP API listens on.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Routes returns the out sections, sorted by starting channel.
// Out sections without a starting channel carry no notes and are skipped.
// The channel ranges of two routes may not overlap.
func (c *Config) Routes() ([]Route, error) {
	var routes []Route
	for name, out := range c.Out {
		if out.Starting == nil {
			continue
		}
		start := *out.Starting
		end := start + 15
		if out.Ending != nil {
			end = *out.Ending
		}
		if start < 0 || start > 255 || end < 0 || end > 255 {
			return nil, fmt.Errorf("out.%s: channels %d-%d out of range 0-255", name, start, end)
		}
		if end < start {
			return nil, fmt.Errorf("out.%s: ending %d is before starting %d", name, end, start)
		}
		routes = append(routes, Route{
			Name:     name,
			Connect:  out.Connect,
			Starting: uint8(start),
			Ending:   uint8(end),
		})
	}
	slices.SortFunc(routes, func(a, b Route) int {
		return int(a.Starting) - int(b.Starting)
	})
	for i := 1; i < len(routes); i++ {
		if a, b := routes[i-1], routes[i]; b.Starting <= a.Ending {
			return nil, fmt.Errorf("out.%s and out.%s have overlapping channels", a.Name, b.Name)
		}
	}
	return routes, nil
}

// Channels returns the channel overrides keyed by global channel.
// Every overridden channel must be covered by one of routes.
func (c *Config) Channels(routes []Route) (map[uint8]ChannelConfig, error) {
	ret := make(map[uint8]ChannelConfig, len(c.Channel))
	for k, ch := range c.Channel {
		n, err := strconv.ParseUint(k, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("channel.%s is invalid, must be an integer 0-255", k)
		}
		if !slices.ContainsFunc(routes, func(r Route) bool { return r.Covers(uint8(n)) }) {
			return nil, fmt.Errorf("channel.%s has no output", k)
		}
		if ch.Bank != nil && *ch.Bank > 127 {
			return nil, fmt.Errorf("channel.%s: bank %d out of range 0-127", k, *ch.Bank)
		}
		if ch.Program != nil && *ch.Program > 127 {
			return nil, fmt.Errorf("channel.%s: program %d out of range 0-127", k, *ch.Program)
		}
		ret[uint8(n)] = ch
	}
	return ret, nil
}

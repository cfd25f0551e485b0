package coremain

import (
	"github.com/spaghettinuum/spagh/mlog"
)

type Config struct {
	Log     mlog.LogConfig         `yaml:"log"`
	Include []string               `yaml:"include"`
	Cache   CacheConfig            `yaml:"cache"`
	Bridge  BridgeConfig           `yaml:"bridge"`
	Servers []ServerListenerConfig `yaml:"servers"`
	Publish []PublishConfig        `yaml:"publish"`
	API     APIConfig              `yaml:"api"`
}

type CacheConfig struct {
	// Size is the in-memory cache capacity (entries). Default is 4096.
	Size int `yaml:"size"`

	// CleanerInterval (sec) for sweeping expired in-memory entries.
	// Default is 60. Negative disables the cleaner.
	CleanerInterval int `yaml:"cleaner_interval"`

	// Redis URL ("redis://..."). When set, outcomes are cached in
	// redis instead of process memory.
	Redis string `yaml:"redis"`

	// RedisTimeout (ms) for redis commands. Default is 1000.
	RedisTimeout int `yaml:"redis_timeout"`

	// UnknownIdentityTTL (sec) bounds negative caching of identities
	// that never published. Default is 60.
	UnknownIdentityTTL int `yaml:"unknown_identity_ttl"`

	// LookupTimeout (sec) for one store lookup. Default is 5.
	LookupTimeout int `yaml:"lookup_timeout"`
}

type BridgeConfig struct {
	// Suffix is the DNS zone the bridge owns. Default is "s.".
	Suffix string `yaml:"suffix"`

	// Upstream "host:port" for questions outside Suffix. If empty,
	// such questions are REFUSED.
	Upstream string `yaml:"upstream"`

	// QueryTimeout (sec) per query. Default is 5.
	QueryTimeout uint `yaml:"query_timeout"`
}

type ServerListenerConfig struct {
	// Protocol, can be:
	// "", "udp" -> udp
	// "tcp" -> tcp
	// "dot", "tls" -> dns over tls
	Protocol string `yaml:"protocol"`

	// Addr is the "host:port" to listen on. Cannot be empty.
	Addr string `yaml:"addr"`

	Cert string `yaml:"cert"` // certificate path, used by dot
	Key  string `yaml:"key"`  // certificate key path, used by dot

	// IdleTimeout (sec), used by tcp and dot as the connection idle
	// timeout.
	IdleTimeout uint `yaml:"idle_timeout"`
}

type PublishConfig struct {
	// Identity the document is published under. Cannot be empty.
	Identity string `yaml:"identity"`

	// File is the publish document, .json, .yaml or .yml.
	File string `yaml:"file"`
}

type APIConfig struct {
	HTTP string `yaml:"http"`
}

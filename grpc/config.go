package grpc

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/kbukum/runflow/errors"
)

// Address locates a gRPC endpoint: either Host+Port or a unix Socket path.
type Address struct {
	Host   string `yaml:"host" mapstructure:"host"`
	Port   int    `yaml:"port" mapstructure:"port"`
	Socket string `yaml:"socket" mapstructure:"socket"`
}

// IsZero reports whether no endpoint is configured.
func (a Address) IsZero() bool {
	return a.Port == 0 && a.Socket == ""
}

// Validate fails with INVALID_CONFIG when both or neither of port and
// socket are set, or the port is out of range.
func (a Address) Validate() error {
	switch {
	case a.Port != 0 && a.Socket != "":
		return errors.InvalidConfig("grpc.address", "port and socket are mutually exclusive")
	case a.Port == 0 && a.Socket == "":
		return errors.InvalidConfig("grpc.address", "either port or socket is required")
	case a.Port < 0 || a.Port > 65535:
		return errors.InvalidConfig("grpc.port", fmt.Sprintf("must be between 1 and 65535, got %d", a.Port))
	}
	return nil
}

func (a Address) host() string {
	if a.Host == "" {
		return "localhost"
	}
	return a.Host
}

// Target returns the dial target understood by grpc.NewClient.
func (a Address) Target() string {
	if a.Socket != "" {
		return "unix://" + a.Socket
	}
	return net.JoinHostPort(a.host(), strconv.Itoa(a.Port))
}

// Listen returns the network and address for net.Listen.
func (a Address) Listen() (network, address string) {
	if a.Socket != "" {
		return "unix", a.Socket
	}
	return "tcp", net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

func (a Address) String() string {
	if a.Socket != "" {
		return a.Socket
	}
	return net.JoinHostPort(a.host(), strconv.Itoa(a.Port))
}

// KeepaliveConfig holds keepalive settings for gRPC connections.
type KeepaliveConfig struct {
	// Time is the interval between keepalive pings.
	Time time.Duration `yaml:"time" mapstructure:"time"`
	// Timeout is the time to wait for a keepalive ping ack before closing.
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
	// PermitWithoutStream allows keepalive pings when there are no active RPCs.
	PermitWithoutStream bool `yaml:"permit_without_stream" mapstructure:"permit_without_stream"`
}

// Config holds configuration for a gRPC client connection.
type Config struct {
	Address `yaml:",inline" mapstructure:",squash"`
	// MaxRecvMsgSize is the maximum message size the client can receive (bytes).
	MaxRecvMsgSize int `yaml:"max_recv_msg_size" mapstructure:"max_recv_msg_size"`
	// MaxSendMsgSize is the maximum message size the client can send (bytes).
	MaxSendMsgSize int             `yaml:"max_send_msg_size" mapstructure:"max_send_msg_size"`
	Keepalive      KeepaliveConfig `yaml:"keepalive" mapstructure:"keepalive"`
	// CallTimeout is applied to unary calls without a deadline. Zero disables it.
	CallTimeout time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
}

const (
	defaultMaxMsgSize       = 16 * 1024 * 1024
	defaultKeepaliveTime    = 30 * time.Second
	defaultKeepaliveTimeout = 10 * time.Second
)

// ApplyDefaults fills in zero-value fields.
func (c *Config) ApplyDefaults() {
	if c.MaxRecvMsgSize == 0 {
		c.MaxRecvMsgSize = defaultMaxMsgSize
	}
	if c.MaxSendMsgSize == 0 {
		c.MaxSendMsgSize = defaultMaxMsgSize
	}
	if c.Keepalive.Time == 0 {
		c.Keepalive.Time = defaultKeepaliveTime
	}
	if c.Keepalive.Timeout == 0 {
		c.Keepalive.Timeout = defaultKeepaliveTimeout
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Address.Validate(); err != nil {
		return err
	}
	if c.MaxRecvMsgSize <= 0 || c.MaxSendMsgSize <= 0 {
		return errors.InvalidConfig("grpc.max_msg_size", "must be positive")
	}
	return nil
}
